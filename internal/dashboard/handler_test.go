package dashboard_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/companies/companiestest"
	"csquare/marketplace/marketplace-backend/internal/dashboard"
	"csquare/marketplace/marketplace-backend/internal/identity"
	"csquare/marketplace/marketplace-backend/internal/ledger"
)

func setupRouter(repo *companiestest.MockRepository, caller *identity.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	auth := func(c *gin.Context) {
		if caller != nil {
			identity.Set(c, *caller)
		}
		c.Next()
	}
	handler := dashboard.NewHandler(dashboard.NewService(repo, zap.NewNop()), zap.NewNop())
	handler.RegisterRoutes(router.Group("/api"), auth)
	return router
}

func acme() *companies.Company {
	c := companies.New("Acme Corp", companies.TypeBuyer, companies.AuthProviderLocal)
	c.CompanyID = "acme-id"
	c.Slug = "acme-corp"
	c.PurchasedCredits = []ledger.PurchasedCredit{{
		TokenID:        "TKN-p1-AAAAAAAA",
		ProjectName:    "Amazon Canopy",
		ProjectType:    ledger.ProjectTypeForestProtection,
		Tons:           2.5,
		PricePerTonUsd: 20,
		PurchaseDate:   time.Now().Add(-time.Hour),
		Status:         ledger.StatusActive,
		Verifier:       "Verra",
	}}
	return c
}

func TestDashboardRestrictsToCaller(t *testing.T) {
	repo := new(companiestest.MockRepository)
	caller := &identity.Identity{CompanyID: "acme-id", Role: "company"}
	repo.On("FindBySlugOrID", mock.Anything, "acme-corp", "acme-id").Return(acme(), nil)
	repo.On("FindBySlugOrID", mock.Anything, "other-co", "acme-id").Return(nil, companies.ErrNotFound)
	router := setupRouter(repo, caller)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/acme-corp", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Company struct {
			Metrics companies.Metrics `json:"metrics"`
		} `json:"company"`
		OffsetsByType    []dashboard.TypeBreakdown `json:"offsetsByType"`
		PurchasedCredits []ledger.PurchasedCredit  `json:"purchasedCredits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2.5, body.Company.Metrics.ActiveCredits)
	assert.Equal(t, []dashboard.TypeBreakdown{{Name: "Forest Protection", Value: 2.5}}, body.OffsetsByType)
	assert.Len(t, body.PurchasedCredits, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/other-co", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	repo.AssertExpectations(t)
}

func TestDashboardAdminIsUnrestricted(t *testing.T) {
	repo := new(companiestest.MockRepository)
	caller := &identity.Identity{CompanyID: "admin-id", Role: "admin"}
	repo.On("FindBySlugOrID", mock.Anything, "acme-corp", "").Return(acme(), nil)

	w := httptest.NewRecorder()
	setupRouter(repo, caller).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/acme-corp", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	repo.AssertExpectations(t)
}

func TestDashboardRequiresIdentity(t *testing.T) {
	repo := new(companiestest.MockRepository)

	w := httptest.NewRecorder()
	setupRouter(repo, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/acme-corp", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExportCreditsCSV(t *testing.T) {
	repo := new(companiestest.MockRepository)
	caller := &identity.Identity{CompanyID: "acme-id", Role: "company"}
	repo.On("FindBySlugOrID", mock.Anything, "acme-corp", "acme-id").Return(acme(), nil)

	w := httptest.NewRecorder()
	setupRouter(repo, caller).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/acme-corp/export?format=csv", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="acme-corp-credits.csv"`, w.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Token ID,Project,"))
	assert.True(t, strings.HasPrefix(lines[1], "TKN-p1-AAAAAAAA,Amazon Canopy,Forest Protection,2.5,20,50,"))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	repo := new(companiestest.MockRepository)
	caller := &identity.Identity{CompanyID: "acme-id"}

	w := httptest.NewRecorder()
	setupRouter(repo, caller).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/acme-corp/export?format=pdf", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	repo.AssertNotCalled(t, "FindBySlugOrID", mock.Anything, mock.Anything, mock.Anything)
}
