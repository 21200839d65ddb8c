// Package ratelimit throttles requests per client IP.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
	"csquare/marketplace/marketplace-backend/internal/config"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client key
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	idle    time.Duration
	logger  *zap.Logger
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing requestsPerSecond with the given burst.
// Buckets unused for idle are dropped by the cleanup loop.
func New(requestsPerSecond float64, burst int, idle time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
		idle:    idle,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// FromConfig builds a limiter from the rate limit settings.
func FromConfig(cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	return New(cfg.RequestsPerSecond, cfg.Burst, 10*time.Minute, logger)
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = l.now()
	return c.limiter.AllowN(c.lastSeen, 1)
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	retryAfter := "1"
	if l.rate > 0 {
		retryAfter = strconv.Itoa(max(1, int(1/float64(l.rate))))
	}
	return func(c *gin.Context) {
		key := c.ClientIP()
		if l.Allow(key) {
			c.Next()
			return
		}
		l.logger.Warn("Rate limit exceeded",
			zap.String("client_ip", key),
			zap.String("path", c.FullPath()))
		c.Header("Retry-After", retryAfter)
		apperrors.Respond(c, l.logger, apperrors.RateLimited("Too many requests, please try again later"))
	}
}

// Size returns the number of tracked clients.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Cleanup drops buckets idle for longer than the idle window.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until Stop is called.
func (l *Limiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
