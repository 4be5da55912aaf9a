package flowsdb

import (
	"context"
	"database/sql"

	"memberflow/internal/split"
)

// CommissionStore records the payout shares computed for confirmed charges.
type CommissionStore struct {
	db *sql.DB
}

// NewCommissionStore constructs a CommissionStore backed by Postgres.
func NewCommissionStore(db *sql.DB) *CommissionStore {
	return &CommissionStore{db: db}
}

// InitSchema creates the commission table if it does not exist.
func (s *CommissionStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS charge_commissions (
			id BIGSERIAL PRIMARY KEY,
			charge_id TEXT NOT NULL,
			recipient TEXT NOT NULL,
			wallet_id TEXT,
			percentage DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (charge_id, recipient)
		)`)
	return err
}

// RecordCommissions inserts one row per share. A charge already recorded
// keeps its original rows.
func (s *CommissionStore) RecordCommissions(ctx context.Context, chargeID string, entries []split.Entry) error {
	for _, entry := range entries {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO charge_commissions (charge_id, recipient, wallet_id, percentage, amount)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (charge_id, recipient) DO NOTHING`,
			chargeID, entry.Recipient, entry.WalletID, entry.Percentage, entry.Amount,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
