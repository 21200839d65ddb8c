package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/database"
	"csquare/marketplace/marketplace-backend/pkg/money"
)

// Listener is notified after a project is written so derived views (caches,
// search index) can follow.
type Listener interface {
	ProjectSaved(ctx context.Context, project *Project)
	ProjectRemoved(ctx context.Context, project *Project)
}

// Service handles administrator project management
type Service struct {
	repo      Repository
	companies companies.Repository
	tx        database.TxRunner
	listeners []Listener
	logger    *zap.Logger
}

// NewService creates a new project service
func NewService(repo Repository, companyRepo companies.Repository, tx database.TxRunner, logger *zap.Logger, listeners ...Listener) *Service {
	if tx == nil {
		tx = database.NoTx{}
	}
	return &Service{
		repo:      repo,
		companies: companyRepo,
		tx:        tx,
		listeners: listeners,
		logger:    logger,
	}
}

// AddListener registers l for project change notifications.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// MapError converts repository sentinels into client-facing errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.NotFound("Project not found")
	case errors.Is(err, ErrVersionConflict):
		return apperrors.Conflict("Project was modified concurrently, please retry")
	case errors.Is(err, ErrDuplicate):
		return apperrors.Conflict("A project with this identifier already exists")
	default:
		return err
	}
}

// mapWriteError maps a failed multi-document write, which may have been
// rejected by either repository.
func mapWriteError(err error) error {
	if errors.Is(err, companies.ErrNotFound) || errors.Is(err, companies.ErrVersionConflict) {
		return companies.MapError(err)
	}
	return MapError(err)
}

// ListSellerCompanies returns every company that may own projects.
func (s *Service) ListSellerCompanies(ctx context.Context) ([]companies.Summary, error) {
	sellers, err := s.companies.List(ctx, companies.ListFilter{Type: companies.TypeSeller})
	if err != nil {
		return nil, fmt.Errorf("failed to list seller companies: %w", err)
	}
	summaries := make([]companies.Summary, 0, len(sellers))
	for i := range sellers {
		summaries = append(summaries, sellers[i].Summarize())
	}
	return summaries, nil
}

// ListCompanyProjects returns the projects owned by companyID.
func (s *Service) ListCompanyProjects(ctx context.Context, companyID string) ([]Project, error) {
	projects, err := s.repo.ListBySeller(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list company projects: %w", err)
	}
	return projects, nil
}

func (s *Service) sellerCompany(ctx context.Context, companyID string) (*companies.Company, error) {
	company, err := s.companies.FindByCompanyID(ctx, companyID)
	if err != nil {
		return nil, companies.MapError(err)
	}
	if !company.IsSeller() {
		return nil, apperrors.Validation("Projects can only be managed for seller companies")
	}
	return company, nil
}

func (s *Service) ownedProject(ctx context.Context, companyID, identifier string) (*Project, error) {
	project, err := s.repo.Resolve(ctx, identifier)
	if err != nil {
		return nil, MapError(err)
	}
	if project.SellerCompanyID != companyID {
		return nil, apperrors.Validation("Project does not belong to the specified company")
	}
	return project, nil
}

// Create adds a project to a seller company and updates its seller metrics.
func (s *Service) Create(ctx context.Context, companyID string, in Input) (*Project, error) {
	if missing := in.MissingRequired(); len(missing) > 0 {
		return nil, apperrors.Validation("Missing required project fields: %s", strings.Join(missing, ", "))
	}

	company, err := s.sellerCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	project := New(*in.Name, "")
	in.Apply(project)
	if in.TonsAvailable == nil {
		project.TonsAvailable = project.TotalCredits
	}
	project.TotalCredits = money.Tons(project.TotalCredits)
	project.SoldCredits = money.Tons(project.SoldCredits)
	project.TonsAvailable = money.Tons(project.TonsAvailable)
	project.PricePerTonUsd = money.USD(project.PricePerTonUsd)
	project.SellerCompany = company.ID
	project.SellerCompanyID = company.CompanyID
	project.Slug = SlugFor(project.Name, project.ProjectID)

	if fields := project.Validate(); len(fields) > 0 {
		return nil, apperrors.InvalidFields(fields)
	}

	metrics := company.SellerMetrics()
	metrics.TotalProjects++
	metrics.CreditsIssued = money.AddTons(metrics.CreditsIssued, project.TotalCredits)

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, project); err != nil {
			return err
		}
		if err := s.companies.AddProject(ctx, companyID, company.Version, project.ID, metrics); err != nil {
			if !s.tx.Transactional() {
				if derr := s.repo.Delete(ctx, project.ID); derr != nil {
					s.logger.Error("Failed to remove orphaned project", zap.Error(derr), zap.String("project_id", project.ProjectID))
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create project", zap.Error(err), zap.String("company_id", companyID))
		return nil, mapWriteError(err)
	}

	s.logger.Info("Project created",
		zap.String("project_id", project.ProjectID),
		zap.String("company_id", companyID),
		zap.Float64("total_credits", project.TotalCredits))

	s.notifySaved(ctx, project)
	return project, nil
}

// Update applies in to a project owned by companyID. Renaming regenerates
// the slug.
func (s *Service) Update(ctx context.Context, companyID, identifier string, in Input) (*Project, error) {
	if in.Empty() {
		return nil, apperrors.Validation("No project fields provided to update")
	}

	project, err := s.ownedProject(ctx, companyID, identifier)
	if err != nil {
		return nil, err
	}
	seller, err := s.sellerCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	previousName := project.Name
	previousTotal := project.TotalCredits
	in.Apply(project)
	if project.Name != previousName {
		project.Slug = SlugFor(project.Name, project.ProjectID)
	}
	project.TotalCredits = money.Tons(project.TotalCredits)
	project.SoldCredits = money.Tons(project.SoldCredits)
	project.TonsAvailable = money.Tons(project.TonsAvailable)
	project.PricePerTonUsd = money.USD(project.PricePerTonUsd)

	if fields := project.Validate(); len(fields) > 0 {
		return nil, apperrors.InvalidFields(fields)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, project); err != nil {
			return err
		}
		if project.TotalCredits == previousTotal {
			return nil
		}
		metrics := seller.SellerMetrics()
		if project.TotalCredits > previousTotal {
			metrics.CreditsIssued = money.AddTons(metrics.CreditsIssued, project.TotalCredits-previousTotal)
		} else {
			metrics.CreditsIssued = money.SubTonsFloor(metrics.CreditsIssued, previousTotal-project.TotalCredits)
		}
		return s.sellerMetricsWrite(ctx, project, s.companies.ReplaceSellerMetrics(ctx, companyID, seller.Version, metrics))
	})
	if err != nil {
		return nil, mapWriteError(err)
	}

	s.logger.Info("Project updated",
		zap.String("project_id", project.ProjectID),
		zap.String("company_id", companyID))

	s.notifySaved(ctx, project)
	return project, nil
}

// Delete removes a project and every company reference to it.
func (s *Service) Delete(ctx context.Context, companyID, identifier string) error {
	project, err := s.ownedProject(ctx, companyID, identifier)
	if err != nil {
		return err
	}
	seller, err := s.companies.FindByCompanyID(ctx, companyID)
	if err != nil && !errors.Is(err, companies.ErrNotFound) {
		return fmt.Errorf("failed to load seller: %w", err)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, project.ID); err != nil {
			return err
		}
		if seller != nil {
			metrics := seller.SellerMetrics()
			if metrics.TotalProjects > 0 {
				metrics.TotalProjects--
			}
			metrics.CreditsIssued = money.SubTonsFloor(metrics.CreditsIssued, project.TotalCredits)
			werr := s.companies.RemoveProject(ctx, companyID, seller.Version, project.ID, metrics)
			if err := s.sellerMetricsWrite(ctx, project, werr); err != nil {
				return err
			}
		}
		return s.companies.PullProject(ctx, project.ID)
	})
	if err != nil {
		s.logger.Error("Failed to delete project", zap.Error(err), zap.String("project_id", project.ProjectID))
		return mapWriteError(err)
	}

	s.logger.Info("Project deleted",
		zap.String("project_id", project.ProjectID),
		zap.String("company_id", companyID))

	for _, l := range s.listeners {
		l.ProjectRemoved(ctx, project)
	}
	return nil
}

// sellerMetricsWrite decides the fate of a failed seller totals write. Inside
// a transaction it aborts the unit; without one the project write has
// already landed, so the drift is left for the reconcile worker.
func (s *Service) sellerMetricsWrite(ctx context.Context, project *Project, err error) error {
	if err == nil || s.tx.Transactional() {
		return err
	}
	s.logger.Warn("Seller totals not updated",
		zap.String("project_id", project.ProjectID),
		zap.String("company_id", project.SellerCompanyID),
		zap.Error(err))
	return nil
}

func (s *Service) notifySaved(ctx context.Context, project *Project) {
	for _, l := range s.listeners {
		l.ProjectSaved(ctx, project)
	}
}
