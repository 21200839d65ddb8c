package companies

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/identity"
)

// Handler handles HTTP requests for the company directory and profiles
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new company handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers directory and profile routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	directory := router.Group("/companies")
	{
		directory.GET("", h.listCompanies)
		directory.GET("/:slug", requireAuth, h.getCompany)
	}

	profile := router.Group("/company", requireAuth)
	{
		profile.GET("/me", h.getCurrentCompany)
		profile.PUT("/profile", h.updateProfile)
	}
}

// listCompanies handles GET /api/companies
func (h *Handler) listCompanies(c *gin.Context) {
	companies, err := h.service.List(c.Request.Context(), c.Query("type"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, companies)
}

// getCompany handles GET /api/companies/:slug
func (h *Handler) getCompany(c *gin.Context) {
	company, err := h.service.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

// getCurrentCompany handles GET /api/company/me
func (h *Handler) getCurrentCompany(c *gin.Context) {
	caller, _ := identity.FromContext(c)

	company, err := h.service.Get(c.Request.Context(), caller.CompanyID)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

// updateProfile handles PUT /api/company/profile
func (h *Handler) updateProfile(c *gin.Context) {
	var req ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	caller, _ := identity.FromContext(c)
	company, err := h.service.UpdateProfile(c.Request.Context(), caller.CompanyID, req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, company)
}
