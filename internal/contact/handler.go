package contact

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
)

// Handler handles contact form requests
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new contact handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers POST /contact behind limit.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, limit gin.HandlerFunc) {
	router.POST("/contact", limit, h.submit)
}

// submit handles POST /api/contact
func (h *Handler) submit(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.service.Submit(c.Request.Context(), req); err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
