package flow

import (
	"context"

	"memberflow/internal/membership"
)

// Attempt is the durable record of one flow, keyed by flow id with a unique
// idempotency key.
type Attempt struct {
	FlowID         string
	IdempotencyKey string
	Email          string
	Amount         float64
	Status         Outcome
	ChargeID       string
}

// Store persists flow attempts and their step transitions. The in-memory
// registry is only a cache in front of it: every transition is written here
// before the orchestrator acts on the step result, so a process restart
// cannot lose the fallback trail.
type Store interface {
	// Begin inserts a new attempt or returns the existing one for the
	// idempotency key. The bool reports whether the attempt was created.
	Begin(ctx context.Context, idempotencyKey, flowID, email string, amount float64) (Attempt, bool, error)
	AttachCharge(ctx context.Context, flowID, chargeID string) error
	SetStatus(ctx context.Context, flowID string, status Outcome) error
	AddStep(ctx context.Context, flowID string, step ProcessingStep) error
	// FindByCharge returns the attempt that owns a charge. The bool reports
	// whether one exists.
	FindByCharge(ctx context.Context, chargeID string) (Attempt, bool, error)
}

// FallbackKind distinguishes the two recovery paths.
type FallbackKind string

const (
	// FallbackCompletion: charge confirmed, provisioning failed.
	FallbackCompletion FallbackKind = "completion"
	// FallbackSubscription: charge created, confirmation still pending.
	FallbackSubscription FallbackKind = "subscription"
)

// FallbackRecord is the durability guarantee for money already received:
// it carries everything a reconciliation job needs to retry provisioning.
type FallbackRecord struct {
	ChargeID   string
	CustomerID string
	FlowID     string
	Kind       FallbackKind
	Request    membership.RegistrationRequest
	Attempts   int
	LastError  string
}

// FallbackStore persists fallback records for later reconciliation.
type FallbackStore interface {
	Store(ctx context.Context, rec FallbackRecord) error
}

// Provisioner creates the user account and membership subscription once the
// charge is confirmed.
type Provisioner interface {
	CreateAccount(ctx context.Context, req membership.RegistrationRequest) (string, error)
	ActivateMembership(ctx context.Context, userID string, req membership.RegistrationRequest, chargeID, customerID string) (string, error)
}

// PlanCatalog resolves a membership plan to its charge amount.
type PlanCatalog interface {
	PlanValue(ctx context.Context, planID string) (float64, error)
}

// AffiliateDirectory resolves an affiliate to its payout wallet.
type AffiliateDirectory interface {
	WalletFor(ctx context.Context, affiliateID string) (string, error)
}
