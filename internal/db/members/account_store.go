// Package membersdb persists user accounts, membership subscriptions and
// the plan catalog in Postgres.
package membersdb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"memberflow/internal/flow"
	"memberflow/internal/membership"
)

// AccountStore provisions accounts and subscriptions. It implements the
// orchestrator's Provisioner.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore constructs an AccountStore backed by Postgres.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// InitSchema creates account tables if they do not exist.
func (s *AccountStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			tax_id TEXT NOT NULL,
			phone TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscription_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			member_tier TEXT NOT NULL,
			charge_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (user_id) REFERENCES accounts(user_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// CreateAccount inserts the registrant's account. A duplicate email maps to
// flow.ErrEmailTaken so the orchestrator can flag manual intervention.
func (s *AccountStore) CreateAccount(ctx context.Context, req membership.RegistrationRequest) (string, error) {
	userID := uuid.NewString()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, email, name, tax_id, phone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING`,
		userID, strings.ToLower(req.Email), req.Name, req.TaxID, req.Phone,
	)
	if err != nil {
		return "", err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", flow.ErrEmailTaken
	}

	return userID, nil
}

// ActivateMembership records an active subscription bound to the confirming
// charge.
func (s *AccountStore) ActivateMembership(ctx context.Context, userID string, req membership.RegistrationRequest, chargeID, customerID string) (string, error) {
	subscriptionID := uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (subscription_id, user_id, plan_id, member_tier, charge_id, customer_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')`,
		subscriptionID, userID, req.PlanID, req.Tier, chargeID, customerID,
	)
	if err != nil {
		return "", err
	}

	return subscriptionID, nil
}
