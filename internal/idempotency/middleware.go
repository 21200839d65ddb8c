package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/identity"
)

const maxKeyLength = 255

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware honours the Idempotency-Key header on authenticated routes.
// Successful responses are stored per company and replayed for repeats;
// failures release the key so the client may retry.
func Middleware(store Store, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderName))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxKeyLength {
			apperrors.Respond(c, logger, apperrors.Validation("Idempotency-Key must be at most 255 characters"))
			return
		}

		caller, _ := identity.FromContext(c)
		scoped := ScopedKey(caller.CompanyID, key)
		ctx := context.WithoutCancel(c.Request.Context())

		existing, err := store.Begin(ctx, scoped, ttl)
		if err != nil {
			apperrors.Respond(c, logger, apperrors.Internal("failed to reserve idempotency key", err))
			return
		}
		if existing != nil {
			if existing.State == StateComplete {
				logger.Info("Replaying idempotent response",
					zap.String("company_id", caller.CompanyID),
					zap.String("idempotency_key", key))
				c.Header("Idempotent-Replayed", "true")
				c.Data(existing.Status, "application/json; charset=utf-8", existing.Body)
				c.Abort()
				return
			}
			apperrors.Respond(c, logger, apperrors.Conflict("A request with this Idempotency-Key is already in progress"))
			return
		}

		// Runs on panics too; the key is released unless a 2xx went out.
		settled := false
		defer func() {
			if settled {
				return
			}
			if err := store.Release(ctx, scoped); err != nil {
				logger.Warn("Failed to release idempotency key", zap.Error(err), zap.String("idempotency_key", key))
			}
		}()

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			settled = true
			// A success that could not be stored stays reserved until the
			// TTL so it is never executed twice.
			if err := store.Complete(ctx, scoped, status, recorder.body.Bytes(), ttl); err != nil {
				logger.Error("Failed to store idempotent response", zap.Error(err), zap.String("idempotency_key", key))
			}
		}
	}
}
