package flowsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"memberflow/internal/flow"
)

// FlowStore persists flow attempts and their step transitions in Postgres.
type FlowStore struct {
	db *sql.DB
}

// NewFlowStore constructs a FlowStore backed by Postgres.
func NewFlowStore(db *sql.DB) *FlowStore {
	return &FlowStore{db: db}
}

// NewFlowStoreWithSchema initializes the schema then returns the store.
func NewFlowStoreWithSchema(ctx context.Context, db *sql.DB) (*FlowStore, error) {
	store := NewFlowStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates flow tables if they do not exist.
func (s *FlowStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS flow_attempts (
			flow_id TEXT PRIMARY KEY,
			idempotency_key TEXT UNIQUE NOT NULL,
			email TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			charge_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS flow_steps (
			id BIGSERIAL PRIMARY KEY,
			flow_id TEXT NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (flow_id) REFERENCES flow_attempts(flow_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Begin inserts a new attempt or returns the existing one for the
// idempotency key.
func (s *FlowStore) Begin(ctx context.Context, idempotencyKey, flowID, email string, amount float64) (flow.Attempt, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_attempts (flow_id, idempotency_key, email, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		flowID, idempotencyKey, email, amount, flow.OutcomeRunning,
	)
	if err != nil {
		return flow.Attempt{}, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return flow.Attempt{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT flow_id, email, amount, status, COALESCE(charge_id, '')
		FROM flow_attempts
		WHERE idempotency_key = $1`,
		idempotencyKey,
	)

	attempt := flow.Attempt{IdempotencyKey: idempotencyKey}
	var status string
	if err := row.Scan(&attempt.FlowID, &attempt.Email, &attempt.Amount, &status, &attempt.ChargeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return flow.Attempt{}, false, fmt.Errorf("flow attempt not found after insert")
		}
		return flow.Attempt{}, false, err
	}
	attempt.Status = flow.Outcome(status)

	if attempt.Email != email {
		return flow.Attempt{}, false, flow.ErrIdempotencyConflict
	}

	return attempt, affected == 1, nil
}

// AttachCharge records the charge created for a flow.
func (s *FlowStore) AttachCharge(ctx context.Context, flowID, chargeID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE flow_attempts
		SET charge_id = $2, updated_at = NOW()
		WHERE flow_id = $1`,
		flowID, chargeID,
	)
	return err
}

// SetStatus updates the attempt's outcome and timestamp.
func (s *FlowStore) SetStatus(ctx context.Context, flowID string, status flow.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE flow_attempts
		SET status = $2, updated_at = NOW()
		WHERE flow_id = $1`,
		flowID, status,
	)
	return err
}

// AddStep appends a flow step row.
func (s *FlowStore) AddStep(ctx context.Context, flowID string, step flow.ProcessingStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_steps (flow_id, step, status, message, error)
		VALUES ($1, $2, $3, $4, $5)`,
		flowID, step.Name, step.Status, step.Message, step.Error,
	)
	return err
}

// FindByCharge returns the attempt that owns a charge. The bool reports
// whether one exists.
func (s *FlowStore) FindByCharge(ctx context.Context, chargeID string) (flow.Attempt, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT flow_id, idempotency_key, email, amount, status, COALESCE(charge_id, '')
		FROM flow_attempts
		WHERE charge_id = $1`,
		chargeID,
	)

	var attempt flow.Attempt
	var status string
	if err := row.Scan(&attempt.FlowID, &attempt.IdempotencyKey, &attempt.Email, &attempt.Amount, &status, &attempt.ChargeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return flow.Attempt{}, false, nil
		}
		return flow.Attempt{}, false, err
	}
	attempt.Status = flow.Outcome(status)
	return attempt, true, nil
}
