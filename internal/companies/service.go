package companies

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/pkg/slugify"
)

// Service handles company directory and profile business logic
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new company service
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// MapError converts repository sentinels into client-facing errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.NotFound("Company not found")
	case errors.Is(err, ErrDuplicate):
		return apperrors.Conflict("A company with this name or email already exists")
	case errors.Is(err, ErrVersionConflict):
		return apperrors.Conflict("Company was modified concurrently, please retry")
	default:
		return err
	}
}

// UniqueSlug derives a free slug from name. excludeCompanyID lets a company
// keep its own slug.
func UniqueSlug(ctx context.Context, repo Repository, name, excludeCompanyID string) (string, error) {
	return slugify.Unique(ctx, slugify.Make(name), func(ctx context.Context, candidate string) (bool, error) {
		return repo.SlugExists(ctx, candidate, excludeCompanyID)
	})
}

// List returns the public directory, optionally filtered by type.
func (s *Service) List(ctx context.Context, companyType string) ([]Summary, error) {
	filter := ListFilter{}
	if companyType != "" {
		t := Type(strings.ToLower(companyType))
		if t != TypeBuyer && t != TypeSeller {
			return nil, apperrors.Validation("type must be buyer or seller")
		}
		filter.Type = t
	}

	companies, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}

	summaries := make([]Summary, 0, len(companies))
	for i := range companies {
		summaries = append(summaries, companies[i].Summarize())
	}
	return summaries, nil
}

// GetBySlug returns a full company profile.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Company, error) {
	company, err := s.repo.FindBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return nil, MapError(err)
	}
	return company, nil
}

// Get returns the company identified by companyID.
func (s *Service) Get(ctx context.Context, companyID string) (*Company, error) {
	company, err := s.repo.FindByCompanyID(ctx, companyID)
	if err != nil {
		return nil, MapError(err)
	}
	return company, nil
}

// UpdateProfile applies a self-service profile edit. Renaming regenerates
// the slug.
func (s *Service) UpdateProfile(ctx context.Context, companyID string, req ProfileUpdate) (*Company, error) {
	req = trimProfile(req)

	var fields []apperrors.FieldError
	if req.Name == "" {
		fields = append(fields, apperrors.FieldError{Field: "name", Code: "required", Message: "Company name is required"})
	}
	if req.ContactEmail != "" {
		if _, err := mail.ParseAddress(req.ContactEmail); err != nil {
			fields = append(fields, apperrors.FieldError{Field: "contactEmail", Code: "format", Message: "contactEmail must be a valid email address"})
		}
	}
	if len(fields) > 0 {
		return nil, apperrors.InvalidFields(fields)
	}

	company, err := s.repo.FindByCompanyID(ctx, companyID)
	if err != nil {
		return nil, MapError(err)
	}

	slug := company.Slug
	if req.Name != company.Name {
		taken, err := s.repo.NameExists(ctx, req.Name, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to check company name: %w", err)
		}
		if taken {
			return nil, apperrors.Conflict("A company with this name already exists")
		}
		slug, err = UniqueSlug(ctx, s.repo, req.Name, companyID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateProfile(ctx, companyID, req, slug); err != nil {
		s.logger.Error("Failed to update profile", zap.Error(err), zap.String("company_id", companyID))
		return nil, MapError(err)
	}

	s.logger.Info("Company profile updated",
		zap.String("company_id", companyID),
		zap.String("slug", slug))

	return s.repo.FindByCompanyID(ctx, companyID)
}

func trimProfile(req ProfileUpdate) ProfileUpdate {
	req.Name = strings.TrimSpace(req.Name)
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	req.ContactEmail = strings.ToLower(strings.TrimSpace(req.ContactEmail))
	req.Website = strings.TrimSpace(req.Website)
	req.Country = strings.TrimSpace(req.Country)
	req.Region = strings.TrimSpace(req.Region)
	return req
}
