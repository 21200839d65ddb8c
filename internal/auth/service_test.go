package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/companies/companiestest"
)

func newTestService(repo *companiestest.MockRepository) *Service {
	return NewService(repo, NewTokenIssuer("test-secret", time.Hour), bcrypt.MinCost, zap.NewNop())
}

func TestRegister(t *testing.T) {
	repo := new(companiestest.MockRepository)
	svc := newTestService(repo)
	ctx := context.Background()

	repo.On("FindByLoginEmail", ctx, "ops@acme.io").Return(nil, companies.ErrNotFound)
	repo.On("NameExists", ctx, "Acme Carbon", "").Return(false, nil)
	repo.On("SlugExists", ctx, "acme-carbon", "").Return(false, nil)
	repo.On("Create", ctx, mock.MatchedBy(func(c *companies.Company) bool {
		return c.Slug == "acme-carbon" &&
			c.Type == companies.TypeSeller &&
			c.LoginEmail == "ops@acme.io" &&
			c.VerifierMetrics != nil &&
			bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte("hunter2hunter2")) == nil
	})).Return(nil)

	session, err := svc.Register(ctx, RegisterRequest{
		Name:     " Acme Carbon ",
		Email:    "Ops@Acme.io",
		Password: "hunter2hunter2",
		Type:     "seller",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "acme-carbon", session.Company.Slug)
	assert.Equal(t, companies.TypeSeller, session.Company.Type)
	repo.AssertExpectations(t)
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(new(companiestest.MockRepository))

	tests := []struct {
		name    string
		req     RegisterRequest
		message string
	}{
		{"missing fields", RegisterRequest{Name: "Acme"}, "Name, email, and password are required"},
		{"bad email", RegisterRequest{Name: "Acme", Email: "nope", Password: "longenough"}, "Email address is invalid"},
		{"short password", RegisterRequest{Name: "Acme", Email: "a@b.io", Password: "short"}, "Password must be at least 8 characters"},
		{"bad type", RegisterRequest{Name: "Acme", Email: "a@b.io", Password: "longenough", Type: "broker"}, "Invalid company type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.req)
			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.KindValidation, appErr.Kind)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}

func TestRegister_EmailTakenByGoogleAccount(t *testing.T) {
	repo := new(companiestest.MockRepository)
	svc := newTestService(repo)
	ctx := context.Background()

	existing := testCompany()
	existing.AuthProvider = companies.AuthProviderGoogle
	repo.On("FindByLoginEmail", ctx, "ops@acme.io").Return(existing, nil)

	_, err := svc.Register(ctx, RegisterRequest{Name: "Other", Email: "ops@acme.io", Password: "longenough"})
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
	assert.Contains(t, err.Error(), "Please sign in using Google.")
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	local := testCompany()
	local.PasswordHash = string(hash)

	googleOnly := testCompany()
	googleOnly.AuthProvider = companies.AuthProviderGoogle

	tests := []struct {
		name     string
		found    *companies.Company
		findErr  error
		password string
		status   int
	}{
		{"valid credentials", local, nil, "correct-horse", http.StatusOK},
		{"wrong password", local, nil, "wrong-horse", http.StatusUnauthorized},
		{"unknown email", nil, companies.ErrNotFound, "correct-horse", http.StatusUnauthorized},
		{"google account", googleOnly, nil, "correct-horse", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(companiestest.MockRepository)
			repo.On("FindByLoginEmail", mock.Anything, "ops@acme.io").Return(tt.found, tt.findErr)
			svc := newTestService(repo)

			session, err := svc.Login(context.Background(), LoginRequest{Email: "ops@acme.io", Password: tt.password})
			if tt.status == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, local.CompanyID, session.Company.CompanyID)
				return
			}
			assert.Equal(t, tt.status, apperrors.HTTPStatus(err))
		})
	}
}

func TestRefresh(t *testing.T) {
	repo := new(companiestest.MockRepository)
	svc := newTestService(repo)
	ctx := context.Background()
	company := testCompany()

	token, err := svc.tokens.Issue(company)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, "")
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(err))

	_, err = svc.Refresh(ctx, "garbage")
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(err))

	company.Name = "Acme Renamed"
	repo.On("FindByCompanyID", ctx, company.CompanyID).Return(company, nil).Once()
	session, err := svc.Refresh(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", session.Company.Name)

	repo.On("FindByCompanyID", ctx, company.CompanyID).Return(nil, companies.ErrNotFound).Once()
	_, err = svc.Refresh(ctx, token)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "Session expired", appErr.Message)
}

func TestSignInWithGoogle_LinksExistingAccount(t *testing.T) {
	repo := new(companiestest.MockRepository)
	svc := newTestService(repo)
	ctx := context.Background()

	existing := testCompany()
	profile := GoogleProfile{ID: "g-1", Email: "ops@acme.io", EmailVerified: true, Name: "Acme", Picture: "https://img/p.png"}

	repo.On("FindByGoogleIDOrEmail", ctx, "g-1", "ops@acme.io").Return(existing, nil)
	repo.On("LinkGoogle", ctx, existing.CompanyID, "g-1", "https://img/p.png").Return(nil)

	session, err := svc.SignInWithGoogle(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, existing.CompanyID, session.Company.CompanyID)
	assert.Equal(t, companies.AuthProviderLocal, session.Company.AuthProvider)
	repo.AssertExpectations(t)
}

func TestSignInWithGoogle_ProvisionsBuyer(t *testing.T) {
	repo := new(companiestest.MockRepository)
	svc := newTestService(repo)
	ctx := context.Background()

	profile := GoogleProfile{ID: "abcdef123", Email: "new@acme.io", EmailVerified: true, Name: "Acme"}
	repo.On("FindByGoogleIDOrEmail", ctx, "abcdef123", "new@acme.io").Return(nil, companies.ErrNotFound)
	repo.On("NameExists", ctx, "Acme", "").Return(true, nil)
	repo.On("SlugExists", ctx, "acme-abcdef", "").Return(false, nil)
	repo.On("Create", ctx, mock.MatchedBy(func(c *companies.Company) bool {
		return c.Name == "Acme abcdef" &&
			c.Type == companies.TypeBuyer &&
			c.AuthProvider == companies.AuthProviderGoogle &&
			c.GoogleID == "abcdef123" &&
			c.LoginEmail == "new@acme.io"
	})).Return(nil)

	session, err := svc.SignInWithGoogle(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, "acme-abcdef", session.Company.Slug)
	repo.AssertExpectations(t)
}

func TestSignInWithGoogle_UnverifiedEmailDoesNotMatchAccounts(t *testing.T) {
	repo := new(companiestest.MockRepository)
	svc := newTestService(repo)
	ctx := context.Background()

	profile := GoogleProfile{ID: "g-2", Email: "ops@acme.io", EmailVerified: false, Name: "Mallory"}
	repo.On("FindByGoogleIDOrEmail", ctx, "g-2", "").Return(nil, companies.ErrNotFound)
	repo.On("NameExists", ctx, "Mallory", "").Return(false, nil)
	repo.On("SlugExists", ctx, "mallory", "").Return(false, nil)
	repo.On("Create", ctx, mock.MatchedBy(func(c *companies.Company) bool {
		return c.GoogleID == "g-2" && c.LoginEmail == "" && c.ContactEmail == ""
	})).Return(nil)

	session, err := svc.SignInWithGoogle(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, "mallory", session.Company.Slug)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "LinkGoogle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
