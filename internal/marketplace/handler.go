package marketplace

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/identity"
	"csquare/marketplace/marketplace-backend/internal/projects"
)

// Handler handles marketplace HTTP requests
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new marketplace handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// PurchaseRequest is the purchase request body. Tons may be sent as a number
// or a numeric string.
type PurchaseRequest struct {
	Tons *projects.Number `json:"tons"`
}

// RegisterRoutes registers marketplace routes. purchaseChain runs before the
// purchase handler, typically auth followed by idempotency.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, purchaseChain ...gin.HandlerFunc) {
	market := router.Group("/marketplace")
	{
		market.GET("", h.getListings)
		market.GET("/search", h.searchListings)
	}

	handlers := append(append([]gin.HandlerFunc{}, purchaseChain...), h.purchaseProject)
	router.POST("/projects/:projectId/purchase", handlers...)
}

// getListings handles GET /api/marketplace
func (h *Handler) getListings(c *gin.Context) {
	listings, err := h.service.Listings(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

// searchListings handles GET /api/marketplace/search?q=
func (h *Handler) searchListings(c *gin.Context) {
	listings, err := h.service.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// purchaseProject handles POST /api/projects/:projectId/purchase
func (h *Handler) purchaseProject(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Tons == nil {
		apperrors.Respond(c, h.logger, apperrors.Validation("Purchase amount must be at least 0.1 tons"))
		return
	}

	caller, ok := identity.FromContext(c)
	if !ok {
		apperrors.Respond(c, h.logger, apperrors.Unauthorized("Authentication required"))
		return
	}

	result, err := h.service.Purchase(c.Request.Context(), caller.CompanyID, c.Param("projectId"), float64(*req.Tons))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
