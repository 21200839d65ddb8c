package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"csquare/marketplace/marketplace-backend/internal/config"
)

const stateCookieName = "csquare_oauth_state"

// Cookies writes the session cookie
type Cookies struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// NewCookies builds the cookie settings from the security config.
func NewCookies(cfg config.SecurityConfig) Cookies {
	return Cookies{
		Name:     cfg.CookieName,
		Secure:   cfg.CookieSecure,
		SameSite: parseSameSite(cfg.CookieSameSite),
		MaxAge:   cfg.TokenTTL,
	}
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}

// Set stores token in the session cookie.
func (k Cookies) Set(c *gin.Context, token string) {
	k.write(c, k.Name, token, int(k.MaxAge.Seconds()))
}

// Clear expires the session cookie.
func (k Cookies) Clear(c *gin.Context) {
	k.write(c, k.Name, "", -1)
}

// Token returns the session token from the cookie, if any.
func (k Cookies) Token(c *gin.Context) string {
	v, err := c.Cookie(k.Name)
	if err != nil {
		return ""
	}
	return v
}

func (k Cookies) write(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(k.SameSite)
	c.SetCookie(name, value, maxAge, "/", "", k.Secure, true)
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
