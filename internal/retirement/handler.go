package retirement

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/identity"
)

// Handler handles credit retirement requests
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new retirement handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the retirement and certificate routes.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	router.POST("/credits/:tokenId/retire", requireAuth, h.retireCredit)
	router.GET("/certificates/:certificateId", requireAuth, h.getCertificate)
}

// retireCredit handles POST /api/credits/:tokenId/retire
func (h *Handler) retireCredit(c *gin.Context) {
	caller, ok := identity.FromContext(c)
	if !ok {
		apperrors.Respond(c, h.logger, apperrors.Unauthorized("Authentication required"))
		return
	}

	result, err := h.service.Retire(c.Request.Context(), caller, c.Param("tokenId"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getCertificate handles GET /api/certificates/:certificateId
func (h *Handler) getCertificate(c *gin.Context) {
	caller, ok := identity.FromContext(c)
	if !ok {
		apperrors.Respond(c, h.logger, apperrors.Unauthorized("Authentication required"))
		return
	}

	certificateID := c.Param("certificateId")
	pdf, err := h.service.Certificate(c.Request.Context(), caller, certificateID)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, certificateID))
	c.Data(http.StatusOK, pdfContentType, pdf)
}
