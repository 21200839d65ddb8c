package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
)

const stateCookieMaxAge = 600

// Handler handles authentication requests
type Handler struct {
	service   *Service
	cookies   Cookies
	google    GoogleProvider
	clientURL string
	logger    *zap.Logger
}

// NewHandler creates a new auth handler. google may be nil to disable
// Google sign-in.
func NewHandler(service *Service, cookies Cookies, google GoogleProvider, clientURL string, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		cookies:   cookies,
		google:    google,
		clientURL: clientURL,
		logger:    logger,
	}
}

// RegisterRoutes registers the /auth routes. limit throttles the
// credential endpoints.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, limit gin.HandlerFunc) {
	group := router.Group("/auth")
	{
		group.POST("/register", limit, h.register)
		group.POST("/login", limit, h.login)
		group.GET("/session", h.session)
		group.POST("/logout", h.logout)

		if h.google != nil {
			group.GET("/google", limit, h.googleStart)
			group.GET("/google/callback", h.googleCallback)
			group.GET("/google/failure", h.googleFailure)
		}
	}
}

// register handles POST /auth/register
func (h *Handler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	session, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	h.cookies.Set(c, session.Token)
	c.JSON(http.StatusCreated, session)
}

// login handles POST /auth/login
func (h *Handler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	session, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	h.cookies.Set(c, session.Token)
	c.JSON(http.StatusOK, session)
}

// session handles GET /auth/session
func (h *Handler) session(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = h.cookies.Token(c)
	}

	session, err := h.service.Refresh(c.Request.Context(), token)
	if err != nil {
		h.cookies.Clear(c)
		apperrors.Respond(c, h.logger, err)
		return
	}
	h.cookies.Set(c, session.Token)
	c.JSON(http.StatusOK, session)
}

// logout handles POST /auth/logout
func (h *Handler) logout(c *gin.Context) {
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// googleStart handles GET /auth/google
func (h *Handler) googleStart(c *gin.Context) {
	state, err := newState()
	if err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("Unable to start Google sign-in", err))
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, stateCookieMaxAge, "/auth/google", "", h.cookies.Secure, true)
	c.Redirect(http.StatusFound, h.google.AuthCodeURL(state))
}

// googleCallback handles GET /auth/google/callback
func (h *Handler) googleCallback(c *gin.Context) {
	expected, _ := c.Cookie(stateCookieName)
	c.SetCookie(stateCookieName, "", -1, "/auth/google", "", h.cookies.Secure, true)

	state, code := c.Query("state"), c.Query("code")
	if expected == "" || code == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		h.logger.Warn("Google callback rejected", zap.Bool("has_code", code != ""), zap.Bool("has_state", expected != ""))
		c.Redirect(http.StatusFound, "/auth/google/failure")
		return
	}

	profile, err := h.google.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("Google code exchange failed", zap.Error(err))
		c.Redirect(http.StatusFound, "/auth/google/failure")
		return
	}

	session, err := h.service.SignInWithGoogle(c.Request.Context(), profile)
	if err != nil {
		h.logger.Error("Google sign-in failed", zap.Error(err))
		c.Redirect(http.StatusFound, "/auth/google/failure")
		return
	}

	h.cookies.Set(c, session.Token)
	c.Redirect(http.StatusFound, h.clientRedirect(session))
}

// googleFailure handles GET /auth/google/failure
func (h *Handler) googleFailure(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Google authentication failed"})
}

func (h *Handler) clientRedirect(session *Session) string {
	target, err := url.Parse(h.clientURL)
	if err != nil {
		target = &url.URL{}
	}
	target = target.JoinPath("/auth/callback")
	q := url.Values{}
	q.Set("token", session.Token)
	q.Set("companyId", session.Company.CompanyID)
	q.Set("slug", session.Company.Slug)
	q.Set("name", session.Company.Name)
	target.RawQuery = q.Encode()
	return target.String()
}

func newState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
