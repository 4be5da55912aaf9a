package flowsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"memberflow/internal/flow"
	"memberflow/internal/membership"
)

// FallbackStore persists fallback records in Postgres so a reconciliation
// job can finish registrations whose money already moved.
type FallbackStore struct {
	db *sql.DB
}

// NewFallbackStore constructs a FallbackStore backed by Postgres.
func NewFallbackStore(db *sql.DB) *FallbackStore {
	return &FallbackStore{db: db}
}

// InitSchema creates the fallback table if it does not exist.
func (s *FallbackStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pending_completions (
			charge_id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			registrant JSONB NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Store upserts a fallback record keyed by charge id. Re-storing the same
// charge bumps the attempt counter instead of duplicating the row. The
// registrant column holds the redacted request: card details and the
// password never reach the database.
func (s *FallbackStore) Store(ctx context.Context, rec flow.FallbackRecord) error {
	registrant, err := json.Marshal(rec.Request.Redacted())
	if err != nil {
		return fmt.Errorf("encode registrant: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_completions (charge_id, flow_id, customer_id, kind, registrant, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (charge_id) DO UPDATE SET
			attempts = pending_completions.attempts + 1,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()`,
		rec.ChargeID, rec.FlowID, rec.CustomerID, rec.Kind, registrant, rec.Attempts, rec.LastError,
	)
	return err
}

// Pending returns unresolved fallback records for a charge, typically the
// single record the webhook consumer needs to finish a registration.
func (s *FallbackStore) Pending(ctx context.Context, chargeID string) (flow.FallbackRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT charge_id, flow_id, customer_id, kind, registrant, attempts, COALESCE(last_error, '')
		FROM pending_completions
		WHERE charge_id = $1 AND resolved = FALSE`,
		chargeID,
	)

	var rec flow.FallbackRecord
	var registrant []byte
	err := row.Scan(&rec.ChargeID, &rec.FlowID, &rec.CustomerID, &rec.Kind, &registrant, &rec.Attempts, &rec.LastError)
	if err == sql.ErrNoRows {
		return flow.FallbackRecord{}, false, nil
	}
	if err != nil {
		return flow.FallbackRecord{}, false, err
	}

	var req membership.RegistrationRequest
	if err := json.Unmarshal(registrant, &req); err != nil {
		return flow.FallbackRecord{}, false, fmt.Errorf("decode registrant: %w", err)
	}
	rec.Request = req

	return rec, true, nil
}

// Resolve marks a fallback record as finished.
func (s *FallbackStore) Resolve(ctx context.Context, chargeID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_completions
		SET resolved = TRUE, updated_at = NOW()
		WHERE charge_id = $1`,
		chargeID,
	)
	return err
}
