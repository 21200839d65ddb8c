package apperrors

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const genericMessage = "Internal server error"

// Respond writes err as a JSON error body and aborts the request.
// Unclassified errors are logged with a stack trace and masked.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	appErr, ok := As(err)
	if !ok || appErr.Kind == KindInternal {
		logger.Error("Unhandled request error",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Stack("stack"))
		c.AbortWithStatusJSON(HTTPStatus(err), gin.H{"error": genericMessage})
		return
	}

	body := gin.H{"error": appErr.Message}
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	c.AbortWithStatusJSON(appErr.Status(), body)
}
