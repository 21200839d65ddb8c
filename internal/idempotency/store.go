// Package idempotency replays the first completed response for a repeated
// request key.
package idempotency

import (
	"context"
	"time"
)

// HeaderName is the request header carrying the client's key.
const HeaderName = "Idempotency-Key"

// State of a stored key.
type State string

const (
	StatePending  State = "pending"
	StateComplete State = "complete"
)

// Record is the stored outcome of a request.
type Record struct {
	Key       string
	State     State
	Status    int
	Body      []byte
	ExpiresAt time.Time
}

// Store reserves keys and keeps completed responses until they expire.
type Store interface {
	// Begin reserves key. It returns (nil, nil) when the caller owns the key,
	// or the existing record when the key was seen before.
	Begin(ctx context.Context, key string, ttl time.Duration) (*Record, error)
	// Complete stores the response for a reserved key.
	Complete(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}

// ScopedKey namespaces a client key by the calling company.
func ScopedKey(companyID, key string) string {
	return companyID + ":" + key
}
