package projects

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
)

// Handler handles administrator project management requests
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new project handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers admin routes. Every route requires an
// authenticated administrator.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAuth, requireAdmin gin.HandlerFunc) {
	admin := router.Group("/admin/companies", requireAuth, requireAdmin)
	{
		admin.GET("", h.listSellerCompanies)
		admin.GET("/:companyId/projects", h.listCompanyProjects)
		admin.POST("/:companyId/projects", h.createProject)
		admin.PUT("/:companyId/projects/:projectId", h.updateProject)
		admin.DELETE("/:companyId/projects/:projectId", h.deleteProject)
	}
}

// listSellerCompanies handles GET /api/admin/companies
func (h *Handler) listSellerCompanies(c *gin.Context) {
	companies, err := h.service.ListSellerCompanies(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"companies": companies})
}

// listCompanyProjects handles GET /api/admin/companies/:companyId/projects
func (h *Handler) listCompanyProjects(c *gin.Context) {
	projects, err := h.service.ListCompanyProjects(c.Request.Context(), c.Param("companyId"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// createProject handles POST /api/admin/companies/:companyId/projects
func (h *Handler) createProject(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	project, err := h.service.Create(c.Request.Context(), c.Param("companyId"), in)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// updateProject handles PUT /api/admin/companies/:companyId/projects/:projectId
func (h *Handler) updateProject(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	project, err := h.service.Update(c.Request.Context(), c.Param("companyId"), c.Param("projectId"), in)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// deleteProject handles DELETE /api/admin/companies/:companyId/projects/:projectId
func (h *Handler) deleteProject(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("companyId"), c.Param("projectId")); err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
