// Package status fans payment-status changes out to interested parties:
// the durable event stream and any live websocket subscribers.
package status

import (
	"context"
	"time"
)

// Event is one observed payment-status change.
type Event struct {
	FlowID     string    `json:"flow_id,omitempty"`
	ChargeID   string    `json:"charge_id"`
	Status     string    `json:"status"`
	Step       string    `json:"step,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers status events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
