package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
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
)

type fakeGoogle struct {
	profile GoogleProfile
	err     error
}

func (f *fakeGoogle) AuthCodeURL(state string) string {
	return "https://accounts.example/consent?state=" + state
}

func (f *fakeGoogle) Exchange(_ context.Context, code string) (GoogleProfile, error) {
	if code != "good-code" {
		return GoogleProfile{}, errors.New("bad code")
	}
	return f.profile, f.err
}

func newAuthRouter(repo *companiestest.MockRepository, google GoogleProvider) (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(repo)
	h := NewHandler(svc, Cookies{Name: "csquare_session", MaxAge: time.Hour}, google, "https://app.example", zap.NewNop())

	router := gin.New()
	h.RegisterRoutes(&router.RouterGroup, func(c *gin.Context) { c.Next() })
	return router, svc
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "csquare_session" {
			return c
		}
	}
	return nil
}

func TestHandler_RegisterSetsCookie(t *testing.T) {
	repo := new(companiestest.MockRepository)
	repo.On("FindByLoginEmail", mock.Anything, "ops@acme.io").Return(nil, companies.ErrNotFound)
	repo.On("NameExists", mock.Anything, "Acme", "").Return(false, nil)
	repo.On("SlugExists", mock.Anything, "acme", "").Return(false, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	router, _ := newAuthRouter(repo, nil)

	body := `{"name":"Acme","email":"ops@acme.io","password":"longenough"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
	assert.Contains(t, w.Body.String(), `"slug":"acme"`)
}

func TestHandler_InvalidBody(t *testing.T) {
	router, _ := newAuthRouter(new(companiestest.MockRepository), nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
}

func TestHandler_SessionClearsCookieOnFailure(t *testing.T) {
	router, _ := newAuthRouter(new(companiestest.MockRepository), nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: "csquare_session", Value: "stale"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestHandler_SessionFromBearer(t *testing.T) {
	repo := new(companiestest.MockRepository)
	router, svc := newAuthRouter(repo, nil)
	company := testCompany()
	token, err := svc.tokens.Issue(company)
	require.NoError(t, err)
	repo.On("FindByCompanyID", mock.Anything, company.CompanyID).Return(company, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), company.CompanyID)
}

func TestHandler_Logout(t *testing.T) {
	router, _ := newAuthRouter(new(companiestest.MockRepository), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestHandler_GoogleRoutesDisabled(t *testing.T) {
	router, _ := newAuthRouter(new(companiestest.MockRepository), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_GoogleFlow(t *testing.T) {
	repo := new(companiestest.MockRepository)
	existing := testCompany()
	existing.GoogleID = "g-1"
	repo.On("FindByGoogleIDOrEmail", mock.Anything, "g-1", "ops@acme.io").Return(existing, nil)
	router, _ := newAuthRouter(repo, &fakeGoogle{profile: GoogleProfile{ID: "g-1", Email: "ops@acme.io", EmailVerified: true}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
	require.Equal(t, http.StatusFound, w.Code)

	var state *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookieName {
			state = c
		}
	}
	require.NotNil(t, state)
	assert.Contains(t, w.Header().Get("Location"), "state="+state.Value)

	t.Run("state mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=good-code&state=other", nil)
		req.AddCookie(state)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/auth/google/failure", w.Header().Get("Location"))
	})

	t.Run("success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=good-code&state="+url.QueryEscape(state.Value), nil)
		req.AddCookie(state)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusFound, w.Code)

		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.example", location.Host)
		assert.Equal(t, "/auth/callback", location.Path)
		assert.Equal(t, existing.CompanyID, location.Query().Get("companyId"))
		assert.Equal(t, "acme-carbon", location.Query().Get("slug"))
		assert.NotEmpty(t, location.Query().Get("token"))
		assert.NotNil(t, sessionCookie(w))
	})

	t.Run("failure page", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google/failure", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
