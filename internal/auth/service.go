package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/companies"
)

// MinPasswordLength is the shortest accepted local password.
const MinPasswordLength = 8

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CompanyPayload is the company summary returned with a session
type CompanyPayload struct {
	CompanyID    string                 `json:"companyId"`
	Slug         string                 `json:"slug"`
	Name         string                 `json:"name"`
	Type         companies.Type         `json:"type"`
	AuthProvider companies.AuthProvider `json:"authProvider"`
	Role         companies.Role         `json:"role"`
}

// Session is an issued token with the company it belongs to
type Session struct {
	Token   string         `json:"token"`
	Company CompanyPayload `json:"company"`
}

// GoogleProfile is the subset of the Google userinfo used for provisioning
type GoogleProfile struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Service handles company sign-up, sign-in and sessions
type Service struct {
	companies  companies.Repository
	tokens     *TokenIssuer
	bcryptCost int
	logger     *zap.Logger
}

// NewService creates a new auth service
func NewService(repo companies.Repository, tokens *TokenIssuer, bcryptCost int, logger *zap.Logger) *Service {
	return &Service{
		companies:  repo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func payload(c *companies.Company) CompanyPayload {
	return CompanyPayload{
		CompanyID:    c.CompanyID,
		Slug:         c.Slug,
		Name:         c.Name,
		Type:         c.Type,
		AuthProvider: c.AuthProvider,
		Role:         c.Role,
	}
}

func (s *Service) session(c *companies.Company) (*Session, error) {
	token, err := s.tokens.Issue(c)
	if err != nil {
		return nil, apperrors.Internal("Unable to create session", err)
	}
	return &Session{Token: token, Company: payload(c)}, nil
}

// Register creates a local-credential company and opens a session for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, apperrors.Validation("Name, email, and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.Validation("Email address is invalid")
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperrors.Validation("Password must be at least %d characters", MinPasswordLength)
	}

	companyType := companies.Type(strings.ToLower(strings.TrimSpace(req.Type)))
	if companyType == "" {
		companyType = companies.TypeBuyer
	}
	if companyType != companies.TypeBuyer && companyType != companies.TypeSeller {
		return nil, apperrors.Validation("Invalid company type")
	}

	existing, err := s.companies.FindByLoginEmail(ctx, email)
	switch {
	case err == nil:
		provider := "email and password"
		if existing.AuthProvider == companies.AuthProviderGoogle {
			provider = "Google"
		}
		return nil, apperrors.Conflict("An account with this email already exists. Please sign in using %s.", provider)
	case !errors.Is(err, companies.ErrNotFound):
		return nil, fmt.Errorf("failed to check login email: %w", err)
	}

	taken, err := s.companies.NameExists(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to check company name: %w", err)
	}
	if taken {
		return nil, apperrors.Conflict("A company with this name already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, apperrors.Internal("Unable to create account", err)
	}
	slug, err := companies.UniqueSlug(ctx, s.companies, name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate slug: %w", err)
	}

	company := companies.New(name, companyType, companies.AuthProviderLocal)
	company.Slug = slug
	company.LoginEmail = email
	company.ContactEmail = email
	company.PasswordHash = string(hash)
	if companyType == companies.TypeSeller {
		company.VerifierMetrics = &companies.VerifierMetrics{}
	}
	if fields := company.Validate(); len(fields) > 0 {
		return nil, apperrors.InvalidFields(fields)
	}

	if err := s.companies.Create(ctx, company); err != nil {
		return nil, companies.MapError(err)
	}

	s.logger.Info("Company registered",
		zap.String("company_id", company.CompanyID),
		zap.String("type", string(company.Type)))
	return s.session(company)
}

// Login verifies local credentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperrors.Validation("Email and password are required")
	}

	company, err := s.companies.FindByLoginEmail(ctx, email)
	if err != nil {
		if errors.Is(err, companies.ErrNotFound) {
			return nil, apperrors.Unauthorized("Invalid email or password")
		}
		return nil, fmt.Errorf("failed to load company: %w", err)
	}

	if company.PasswordHash == "" {
		if company.AuthProvider == companies.AuthProviderGoogle {
			return nil, apperrors.Forbidden("This account uses Google sign-in. Please continue with Google.")
		}
		return nil, apperrors.Unauthorized("Invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(company.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperrors.Unauthorized("Invalid email or password")
	}

	return s.session(company)
}

// Refresh verifies token and re-issues it for the current company state.
func (s *Service) Refresh(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("Not authenticated")
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, apperrors.Unauthorized("Session invalid")
	}

	company, err := s.companies.FindByCompanyID(ctx, claims.CompanyID)
	if err != nil {
		if errors.Is(err, companies.ErrNotFound) {
			return nil, apperrors.Unauthorized("Session expired")
		}
		return nil, fmt.Errorf("failed to load company: %w", err)
	}
	return s.session(company)
}

// SignInWithGoogle finds the company linked to profile, by Google id or
// email, creating a buyer when none exists.
func (s *Service) SignInWithGoogle(ctx context.Context, profile GoogleProfile) (*Session, error) {
	if profile.ID == "" {
		return nil, apperrors.Unauthorized("Google authentication failed")
	}
	// An unverified address neither matches an account nor is stored.
	email := ""
	if profile.EmailVerified {
		email = normalizeEmail(profile.Email)
	}

	company, err := s.companies.FindByGoogleIDOrEmail(ctx, profile.ID, email)
	switch {
	case err == nil:
		if company.GoogleID == "" || (profile.Picture != "" && profile.Picture != company.GooglePicture) {
			if err := s.companies.LinkGoogle(ctx, company.CompanyID, profile.ID, profile.Picture); err != nil {
				return nil, fmt.Errorf("failed to link google account: %w", err)
			}
			company.GoogleID = profile.ID
			if profile.Picture != "" {
				company.GooglePicture = profile.Picture
			}
		}
	case errors.Is(err, companies.ErrNotFound):
		company, err = s.provisionGoogle(ctx, profile, email)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to look up google account: %w", err)
	}

	return s.session(company)
}

func (s *Service) provisionGoogle(ctx context.Context, profile GoogleProfile, email string) (*companies.Company, error) {
	name := strings.TrimSpace(profile.Name)
	if name == "" && email != "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if name == "" {
		name = "New Company"
	}

	// Display names are not unique; fall back to a suffixed name.
	taken, err := s.companies.NameExists(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to check company name: %w", err)
	}
	if taken {
		name = name + " " + profile.ID[:min(6, len(profile.ID))]
	}

	slug, err := companies.UniqueSlug(ctx, s.companies, name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate slug: %w", err)
	}

	company := companies.New(name, companies.TypeBuyer, companies.AuthProviderGoogle)
	company.Slug = slug
	company.GoogleID = profile.ID
	company.GooglePicture = profile.Picture
	company.LoginEmail = email
	company.ContactEmail = email
	if err := s.companies.Create(ctx, company); err != nil {
		return nil, companies.MapError(err)
	}

	s.logger.Info("Company provisioned from Google sign-in", zap.String("company_id", company.CompanyID))
	return company, nil
}
