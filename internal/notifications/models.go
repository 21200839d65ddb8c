// Package notifications fans ledger events out to subscribers.
package notifications

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types
const (
	EventCreditPurchased = "credit.purchased"
	EventCreditRetired   = "credit.retired"
)

// WebSocket message types
const (
	WSMessageTypeEvent  = "event"
	WSMessageTypeStatus = "status"
)

// Event is a ledger change visible on the public explorer.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurredAt"`
	CompanyID   string    `json:"companyId"`
	CompanyName string    `json:"companyName"`
	CompanySlug string    `json:"companySlug"`
	ProjectID   string    `json:"projectId,omitempty"`
	ProjectName string    `json:"projectName"`
	TokenID     string    `json:"tokenId"`
	Tons        float64   `json:"tons"`
	// TotalCostUsd is set for purchases only.
	TotalCostUsd    float64 `json:"totalCostUsd,omitempty"`
	TransactionHash string  `json:"transactionHash"`
	CertificateID   string  `json:"certificateId,omitempty"`
}

// NewEvent stamps an event with a sortable id.
func NewEvent(eventType string, occurredAt time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
	}
}

// WebSocketMessage represents WebSocket message format
type WebSocketMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
