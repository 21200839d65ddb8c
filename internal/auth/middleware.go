package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/identity"
)

// Middleware authenticates requests from a bearer header or session cookie
type Middleware struct {
	tokens  *TokenIssuer
	cookies Cookies
	logger  *zap.Logger
}

// NewMiddleware creates the auth middleware
func NewMiddleware(tokens *TokenIssuer, cookies Cookies, logger *zap.Logger) *Middleware {
	return &Middleware{tokens: tokens, cookies: cookies, logger: logger}
}

// RequireAuth rejects requests without a valid session token and stores
// the caller identity on the context.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = m.cookies.Token(c)
		}
		if token == "" {
			apperrors.Respond(c, m.logger, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			m.logger.Debug("Token validation failed", zap.String("path", c.FullPath()), zap.Error(err))
			apperrors.Respond(c, m.logger, apperrors.Unauthorized("Invalid or expired token"))
			return
		}

		identity.Set(c, claims.Identity())
		c.Next()
	}
}

// RequireAdmin allows only administrators. It must run after RequireAuth.
func (m *Middleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := identity.FromContext(c)
		if !ok || !caller.IsAdmin() {
			apperrors.Respond(c, m.logger, apperrors.Forbidden("Administrator access required"))
			return
		}
		c.Next()
	}
}
