// Package webhookdb records processed gateway webhook events so redeliveries
// never re-run their side effects.
package webhookdb

import (
	"context"
	"database/sql"
)

// EventLedger is the Postgres ledger of received webhook events, keyed by
// the gateway's event id.
type EventLedger struct {
	db *sql.DB
}

// NewEventLedger constructs an EventLedger backed by Postgres.
func NewEventLedger(db *sql.DB) *EventLedger {
	return &EventLedger{db: db}
}

// InitSchema creates the ledger table if it does not exist.
func (l *EventLedger) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			charge_id TEXT,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		)`)
	return err
}

// Record claims the event for processing. The bool is false only when a
// previous delivery already committed its side effects (MarkProcessed ran);
// an unprocessed row stays claimable so a failed delivery can be retried.
func (l *EventLedger) Record(ctx context.Context, eventID, eventType, chargeID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, charge_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE SET received_at = NOW()
		WHERE webhook_events.processed = FALSE`,
		eventID, eventType, chargeID,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// MarkProcessed stamps the event after its side effects committed.
func (l *EventLedger) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed = TRUE, processed_at = NOW()
		WHERE event_id = $1`,
		eventID,
	)
	return err
}
