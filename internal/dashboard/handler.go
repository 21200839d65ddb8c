package dashboard

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/identity"
	"csquare/marketplace/marketplace-backend/internal/reports/export"
)

// Handler handles dashboard HTTP requests
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new dashboard handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers dashboard routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	group := router.Group("/dashboard", requireAuth)
	{
		group.GET("/:slug", h.getDashboard)
		group.GET("/:slug/export", h.exportCredits)
	}
}

// getDashboard handles GET /api/dashboard/:slug
func (h *Handler) getDashboard(c *gin.Context) {
	caller, ok := identity.FromContext(c)
	if !ok {
		apperrors.Respond(c, h.logger, apperrors.Unauthorized("Authentication required"))
		return
	}

	dashboard, err := h.service.Get(c.Request.Context(), caller, c.Param("slug"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// exportCredits handles GET /api/dashboard/:slug/export?format=csv|xlsx
func (h *Handler) exportCredits(c *gin.Context) {
	caller, ok := identity.FromContext(c)
	if !ok {
		apperrors.Respond(c, h.logger, apperrors.Unauthorized("Authentication required"))
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}

	company, table, err := h.service.CreditLedger(c.Request.Context(), caller, c.Param("slug"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, table); err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("Failed to export credits", err))
		return
	}

	filename := format.Filename(company.Slug + "-credits")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}
