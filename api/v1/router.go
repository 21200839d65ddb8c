// Package v1 assembles the HTTP surface of the marketplace API.
package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/auth"
	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/contact"
	"csquare/marketplace/marketplace-backend/internal/dashboard"
	"csquare/marketplace/marketplace-backend/internal/explorer"
	"csquare/marketplace/marketplace-backend/internal/logging"
	"csquare/marketplace/marketplace-backend/internal/marketplace"
	"csquare/marketplace/marketplace-backend/internal/metrics"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/internal/retirement"
)

// Handlers holds every mounted handler
type Handlers struct {
	Auth        *auth.Handler
	Companies   *companies.Handler
	Projects    *projects.Handler
	Marketplace *marketplace.Handler
	Dashboard   *dashboard.Handler
	Explorer    *explorer.Handler
	Retirement  *retirement.Handler
	Contact     *contact.Handler
}

// Middleware holds the route-level middleware shared by the handlers
type Middleware struct {
	RequireAuth  gin.HandlerFunc
	RequireAdmin gin.HandlerFunc
	RateLimit    gin.HandlerFunc
	Idempotency  gin.HandlerFunc
}

// RouterConfig configures the engine
type RouterConfig struct {
	AllowedOrigin string
	Release       bool
	// HealthCheck backs GET /health when set.
	HealthCheck func(ctx context.Context) error
}

// NewRouter builds the gin engine with every route of the API.
func NewRouter(cfg RouterConfig, h Handlers, mw Middleware, logger *zap.Logger) *gin.Engine {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(logger), metrics.Middleware(), CORS(cfg.AllowedOrigin))

	router.GET("/health", Health(cfg.HealthCheck))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	h.Auth.RegisterRoutes(&router.RouterGroup, mw.RateLimit)

	api := router.Group("/api")
	{
		h.Companies.RegisterRoutes(api, mw.RequireAuth)
		h.Projects.RegisterRoutes(api, mw.RequireAuth, mw.RequireAdmin)
		h.Marketplace.RegisterRoutes(api, mw.RequireAuth, mw.Idempotency)
		h.Dashboard.RegisterRoutes(api, mw.RequireAuth)
		h.Explorer.RegisterRoutes(api)
		h.Retirement.RegisterRoutes(api, mw.RequireAuth)
		h.Contact.RegisterRoutes(api, mw.RateLimit)
	}

	return router
}

// CORS allows the configured origin to call the API with credentials.
func CORS(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowedOrigin == "*" && origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Idempotency-Key, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Health reports service liveness, probing check when set.
func Health(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "unhealthy",
					"error":     err.Error(),
					"timestamp": time.Now().UTC(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	}
}
