package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/identity"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	existing, err := store.Begin(ctx, "c1:k", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, existing)

	existing, err = store.Begin(ctx, "c1:k", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, StatePending, existing.State)

	require.NoError(t, store.Complete(ctx, "c1:k", http.StatusCreated, []byte(`{"ok":true}`), time.Hour))
	existing, _ = store.Begin(ctx, "c1:k", time.Hour)
	assert.Equal(t, StateComplete, existing.State)
	assert.Equal(t, http.StatusCreated, existing.Status)

	require.NoError(t, store.Release(ctx, "c1:k"))
	existing, _ = store.Begin(ctx, "c1:k", time.Hour)
	assert.Nil(t, existing)
}

func TestMemoryStoreExpiredKeyIsReusable(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = store.Begin(ctx, "k", time.Minute)
	now = now.Add(2 * time.Minute)

	existing, err := store.Begin(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestMemoryStorePrunesExpiredRecords(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_, err := store.Begin(ctx, fmt.Sprintf("buyer-1:key-%d", i), time.Millisecond)
		require.NoError(t, err)
	}
	_, err := store.Begin(ctx, "buyer-1:fresh", 2*time.Hour)
	require.NoError(t, err)

	now = now.Add(time.Hour)

	assert.Equal(t, 1000, store.Prune())
	assert.Len(t, store.records, 1)
	assert.Contains(t, store.records, "buyer-1:fresh")
}

func TestMemoryStoreStopIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	store.StartCleanup(time.Millisecond)
	store.Stop()
	store.Stop()
}

func newRouter(store Store, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/purchase",
		func(c *gin.Context) { identity.Set(c, identity.Identity{CompanyID: "buyer-1"}) },
		Middleware(store, time.Hour, zap.NewNop()),
		handler)
	return router
}

func post(router *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/purchase", nil)
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddlewareReplaysSuccessfulResponse(t *testing.T) {
	calls := 0
	router := newRouter(NewMemoryStore(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	first := post(router, "abc")
	second := post(router, "abc")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
}

func TestMiddlewareReleasesKeyOnFailure(t *testing.T) {
	calls := 0
	router := newRouter(NewMemoryStore(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusBadRequest, gin.H{"error": "nope"})
	})

	post(router, "abc")
	post(router, "abc")

	assert.Equal(t, 2, calls)
}

func TestMiddlewareReleasesKeyWhenHandlerPanics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/purchase",
		func(c *gin.Context) { identity.Set(c, identity.Identity{CompanyID: "buyer-1"}) },
		Middleware(NewMemoryStore(), time.Hour, zap.NewNop()),
		func(c *gin.Context) {
			calls++
			if calls == 1 {
				panic("ledger write exploded")
			}
			c.JSON(http.StatusCreated, gin.H{"call": calls})
		})

	first := post(router, "abc")
	retry := post(router, "abc")

	assert.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, 2, calls)
}

func TestMiddlewareRejectsConcurrentRepeat(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Begin(context.Background(), ScopedKey("buyer-1", "abc"), time.Hour)
	require.NoError(t, err)

	router := newRouter(store, func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := post(router, "abc")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMiddlewareWithoutHeaderPassesThrough(t *testing.T) {
	calls := 0
	router := newRouter(NewMemoryStore(), func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})

	post(router, "")
	post(router, "")
	assert.Equal(t, 2, calls)
}
