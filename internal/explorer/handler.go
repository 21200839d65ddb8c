package explorer

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/notifications/websocket"
	"csquare/marketplace/marketplace-backend/internal/reports/export"
)

// Handler handles explorer HTTP requests
type Handler struct {
	service *Service
	live    *websocket.Manager
	logger  *zap.Logger
}

// NewHandler creates a new explorer handler. live may be nil, in which case
// the live feed route is not registered.
func NewHandler(service *Service, live *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		live:    live,
		logger:  logger,
	}
}

// RegisterRoutes registers the public explorer routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/explorer")
	{
		group.GET("", h.getFeed)
		group.GET("/export", h.exportFeed)
		if h.live != nil {
			group.GET("/live", h.liveFeed)
		}
	}
}

// getFeed handles GET /api/explorer
func (h *Handler) getFeed(c *gin.Context) {
	feed, err := h.service.Feed(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("Unable to load explorer feed", err))
		return
	}
	c.JSON(http.StatusOK, feed)
}

// exportFeed handles GET /api/explorer/export?format=csv|xlsx. CSV exports
// carry one section, chosen with ?section=retirements|transactions.
func (h *Handler) exportFeed(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	section := c.DefaultQuery("section", "retirements")
	if section != "retirements" && section != "transactions" {
		apperrors.Respond(c, h.logger, apperrors.Validation("Export section must be retirements or transactions"))
		return
	}

	retirements, transactions, err := h.service.Tables(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("Unable to load explorer feed", err))
		return
	}

	tables := []export.Table{retirements, transactions}
	base := "explorer"
	if format == export.FormatCSV {
		base = "explorer-" + section
		if section == "transactions" {
			tables = []export.Table{transactions}
		}
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, tables...); err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("Failed to export explorer feed", err))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(base)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// liveFeed handles GET /api/explorer/live
func (h *Handler) liveFeed(c *gin.Context) {
	if _, err := h.live.HandleConnection(c.Writer, c.Request); err != nil {
		h.logger.Warn("Explorer live connection rejected", zap.Error(err))
	}
}
