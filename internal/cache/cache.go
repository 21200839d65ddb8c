// Package cache stores short-lived feed responses. Values are kept as JSON
// so the in-memory and Redis backends behave the same.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/metrics"
)

// Key prefixes for the cached public feeds.
const (
	PrefixMarketplace = "marketplace:"
	PrefixExplorer    = "explorer:"
)

// Cache is a TTL key/value store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Loader computes the value for a cache miss.
type Loader[T any] func(ctx context.Context) (T, error)

// GetOrLoad returns the cached value for key or loads, stores and returns it.
// Cache failures are logged and fall through to load.
func GetOrLoad[T any](ctx context.Context, c Cache, logger *zap.Logger, feed, key string, ttl time.Duration, load Loader[T]) (T, error) {
	var value T

	if raw, ok, err := c.Get(ctx, key); err != nil {
		logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		if err := json.Unmarshal(raw, &value); err == nil {
			metrics.RecordCacheLookup(feed, true)
			return value, nil
		}
		logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	}
	metrics.RecordCacheLookup(feed, false)

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return value, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.Set(ctx, key, raw, ttl); err != nil {
		logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// Invalidate drops every entry under the given prefixes, logging failures.
func Invalidate(ctx context.Context, c Cache, logger *zap.Logger, prefixes ...string) {
	for _, prefix := range prefixes {
		if err := c.DeleteByPrefix(ctx, prefix); err != nil {
			logger.Warn("Cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
		}
	}
}
