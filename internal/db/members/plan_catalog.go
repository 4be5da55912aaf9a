package membersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrPlanNotFound reports a plan id with no catalog entry.
var ErrPlanNotFound = errors.New("membership plan not found")

// PlanCatalog resolves membership plans to their charge amounts from the
// membership_plans table.
type PlanCatalog struct {
	db *sql.DB
}

// NewPlanCatalog constructs a PlanCatalog backed by Postgres.
func NewPlanCatalog(db *sql.DB) *PlanCatalog {
	return &PlanCatalog{db: db}
}

// InitSchema creates the plan table if it does not exist.
func (c *PlanCatalog) InitSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS membership_plans (
			plan_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`)
	return err
}

// PlanValue returns the charge amount for an active plan.
func (c *PlanCatalog) PlanValue(ctx context.Context, planID string) (float64, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT amount FROM membership_plans
		WHERE plan_id = $1 AND active = TRUE`,
		planID,
	)

	var amount float64
	if err := row.Scan(&amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return 0, err
	}

	return amount, nil
}
