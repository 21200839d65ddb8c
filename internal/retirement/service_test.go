package retirement

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/companies/companiestest"
	"csquare/marketplace/marketplace-backend/internal/identity"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/notifications"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	return m.Called(ctx, key, contentType, body).Error(0)
}

func (m *mockStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStore) PresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	args := m.Called(ctx, key, expiration)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	events []notifications.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notifications.Event) error {
	p.events = append(p.events, e)
	return nil
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func holder() *companies.Company {
	c := companies.New("Acme Carbon", companies.TypeBuyer, companies.AuthProviderLocal)
	c.CompanyID = "buyer-1"
	c.Slug = "acme-carbon"
	c.Version = 5
	c.Metrics = companies.Metrics{TotalCo2OffsetTons: 2, ActiveCredits: 12.5, RetiredCredits: 2, TotalInvestedUsd: 400}
	c.PurchasedCredits = []ledger.PurchasedCredit{
		{ProjectName: "Amazon Canopy", ProjectType: ledger.ProjectTypeForestProtection, Tons: 12.5, PricePerTonUsd: 20, Status: ledger.StatusActive, TokenID: "TKN-A", Verifier: "Verra"},
		{ProjectName: "Solar Farm", ProjectType: ledger.ProjectTypeRenewableEnergy, Tons: 2, PricePerTonUsd: 75, Status: ledger.StatusRetired, TokenID: "TKN-B", Verifier: "Gold Standard"},
	}
	return c
}

func newTestService(repo companies.Repository, store *mockStore, events *recordingPublisher) *Service {
	opts := Options{Events: events}
	if store != nil {
		opts.Store = store
	}
	svc := NewService(repo, opts, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func caller() identity.Identity {
	return identity.Identity{CompanyID: "buyer-1", Slug: "acme-carbon", Role: "company"}
}

func TestRetire(t *testing.T) {
	repo := new(companiestest.MockRepository)
	events := &recordingPublisher{}
	svc := newTestService(repo, nil, events)
	ctx := context.Background()

	repo.On("FindByCompanyID", ctx, "buyer-1").Return(holder(), nil)
	repo.On("RecordRetirement", ctx, "buyer-1", int64(5),
		mock.MatchedBy(func(r ledger.RetirementRecord) bool {
			return r.TokenID == "TKN-A" && r.TonsRetired == 12.5 && r.Verifier == "Verra" &&
				r.RetiredDate.Equal(fixedNow) && r.CertificateKey == "" && len(r.CertificateID) > len("CERT-")
		}),
		mock.MatchedBy(func(tx ledger.Transaction) bool {
			return tx.TransactionType == ledger.TransactionRetire && tx.From == "Acme Carbon" && tx.AmountTons == 12.5
		}),
		companies.Metrics{TotalCo2OffsetTons: 2, ActiveCredits: 0, RetiredCredits: 14.5, TotalInvestedUsd: 400},
	).Return(nil)

	result, err := svc.Retire(ctx, caller(), "TKN-A")
	require.NoError(t, err)
	assert.Equal(t, result.RetirementRecord.TransactionHash, result.Transaction.TransactionHash)
	assert.Equal(t, 14.5, result.Metrics.RetiredCredits)
	assert.Empty(t, result.CertificateURL)

	require.Len(t, events.events, 1)
	assert.Equal(t, notifications.EventCreditRetired, events.events[0].Type)
	assert.Equal(t, result.RetirementRecord.CertificateID, events.events[0].CertificateID)
	repo.AssertExpectations(t)
}

func TestRetire_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		tokenID string
		status  int
	}{
		{"already retired", "TKN-B", http.StatusConflict},
		{"unknown token", "TKN-Z", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(companiestest.MockRepository)
			repo.On("FindByCompanyID", mock.Anything, "buyer-1").Return(holder(), nil)
			svc := newTestService(repo, nil, &recordingPublisher{})

			_, err := svc.Retire(context.Background(), caller(), tt.tokenID)
			assert.Equal(t, tt.status, apperrors.HTTPStatus(err))
			repo.AssertNotCalled(t, "RecordRetirement", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRetire_UploadsCertificate(t *testing.T) {
	repo := new(companiestest.MockRepository)
	store := new(mockStore)
	svc := newTestService(repo, store, &recordingPublisher{})
	ctx := context.Background()

	repo.On("FindByCompanyID", ctx, "buyer-1").Return(holder(), nil)
	store.On("Upload", ctx, mock.MatchedBy(func(key string) bool {
		return bytes.HasPrefix([]byte(key), []byte("certificates/buyer-1/CERT-"))
	}), "application/pdf", mock.Anything).Return(nil)
	repo.On("RecordRetirement", ctx, "buyer-1", int64(5), mock.MatchedBy(func(r ledger.RetirementRecord) bool {
		return r.CertificateKey != ""
	}), mock.Anything, mock.Anything).Return(nil)
	store.On("PresignedURL", ctx, mock.Anything, 15*time.Minute).Return("https://bucket/cert.pdf", nil)

	result, err := svc.Retire(ctx, caller(), "TKN-A")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket/cert.pdf", result.CertificateURL)
	store.AssertExpectations(t)
}

func TestRetire_VersionConflictDiscardsCertificate(t *testing.T) {
	repo := new(companiestest.MockRepository)
	store := new(mockStore)
	svc := newTestService(repo, store, &recordingPublisher{})
	ctx := context.Background()

	repo.On("FindByCompanyID", ctx, "buyer-1").Return(holder(), nil)
	store.On("Upload", ctx, mock.Anything, "application/pdf", mock.Anything).Return(nil)
	repo.On("RecordRetirement", ctx, "buyer-1", int64(5), mock.Anything, mock.Anything, mock.Anything).
		Return(companies.ErrVersionConflict)
	store.On("Delete", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Retire(ctx, caller(), "TKN-A")
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
	store.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestRetire_UploadFailureStillRetires(t *testing.T) {
	repo := new(companiestest.MockRepository)
	store := new(mockStore)
	svc := newTestService(repo, store, &recordingPublisher{})
	ctx := context.Background()

	repo.On("FindByCompanyID", ctx, "buyer-1").Return(holder(), nil)
	store.On("Upload", ctx, mock.Anything, "application/pdf", mock.Anything).Return(errors.New("s3 down"))
	repo.On("RecordRetirement", ctx, "buyer-1", int64(5), mock.MatchedBy(func(r ledger.RetirementRecord) bool {
		return r.CertificateKey == ""
	}), mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Retire(ctx, caller(), "TKN-A")
	require.NoError(t, err)
	store.AssertNotCalled(t, "PresignedURL", mock.Anything, mock.Anything, mock.Anything)
}

func retiredHolder() *companies.Company {
	c := holder()
	c.RetirementRecords = []ledger.RetirementRecord{{
		TokenID:         "TKN-B",
		ProjectName:     "Solar Farm",
		TonsRetired:     2,
		RetiredDate:     fixedNow,
		TransactionHash: "tx-abc",
		CertificateID:   "CERT-01HZX",
		Verifier:        "Gold Standard",
	}}
	return c
}

func TestCertificate(t *testing.T) {
	tests := []struct {
		name   string
		caller identity.Identity
		status int
	}{
		{"owner", caller(), http.StatusOK},
		{"admin", identity.Identity{CompanyID: "admin-1", Role: "admin"}, http.StatusOK},
		{"other company", identity.Identity{CompanyID: "other"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(companiestest.MockRepository)
			repo.On("FindByCertificateID", mock.Anything, "CERT-01HZX").Return(retiredHolder(), nil)
			svc := newTestService(repo, nil, &recordingPublisher{})

			pdf, err := svc.Certificate(context.Background(), tt.caller, "CERT-01HZX")
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, apperrors.HTTPStatus(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
		})
	}
}

func TestHandler_Certificate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := new(companiestest.MockRepository)
	repo.On("FindByCertificateID", mock.Anything, "CERT-01HZX").Return(retiredHolder(), nil)
	repo.On("FindByCertificateID", mock.Anything, "CERT-missing").Return(nil, companies.ErrNotFound)
	h := NewHandler(newTestService(repo, nil, &recordingPublisher{}), zap.NewNop())

	router := gin.New()
	h.RegisterRoutes(router.Group("/api"), func(c *gin.Context) {
		identity.Set(c, caller())
		c.Next()
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/certificates/CERT-01HZX", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "CERT-01HZX.pdf")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/certificates/CERT-missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
