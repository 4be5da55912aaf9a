// Package flow orchestrates the payment-first registration state machine:
// a user account is provisioned only after the payment gateway confirms
// funds, and money received is never silently dropped.
package flow

import (
	"time"

	"memberflow/internal/membership"
)

// StepStatus is the state of one processing step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// Step names, in execution order.
const (
	StepValidation   = "validation"
	StepCustomer     = "gateway_customer"
	StepCreateCharge = "create_charge"
	StepConfirmation = "payment_confirmation"
	StepSplit        = "configure_split"
	StepProvision    = "provision_account"
)

// ProcessingStep is one recorded stage transition of a flow run. The step
// list is append-only within a run.
type ProcessingStep struct {
	Name    string     `json:"step"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
	At      time.Time  `json:"timestamp"`
}

// Outcome is the terminal (or current) disposition of a flow.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
	OutcomeFallback  Outcome = "fallback_stored"
)

// Context is the aggregate state of one flow run, keyed by its generated id.
// It lives in the registry while the flow is active.
type Context struct {
	ID        string                         `json:"flow_id"`
	Request   membership.RegistrationRequest `json:"-"`
	Email     string                         `json:"email"`
	Steps     []ProcessingStep               `json:"steps"`
	ChargeID  string                         `json:"charge_id,omitempty"`
	Outcome   Outcome                        `json:"outcome"`
	CreatedAt time.Time                      `json:"created_at"`
	UpdatedAt time.Time                      `json:"updated_at"`
}

// Result is what one ProcessRegistration invocation returns.
type Result struct {
	FlowID         string           `json:"flow_id"`
	Success        bool             `json:"success"`
	UserID         string           `json:"user_id,omitempty"`
	ChargeID       string           `json:"charge_id,omitempty"`
	CustomerID     string           `json:"customer_id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	Steps          []ProcessingStep `json:"steps"`
	Duration       time.Duration    `json:"duration_ms"`

	// StillPending marks a flow whose charge has not resolved yet; the
	// caller should offer a manual check-status affordance.
	StillPending bool `json:"still_pending,omitempty"`
	// FallbackStored marks that enough state survived a post-payment
	// failure for reconciliation to finish the job later.
	FallbackStored             bool `json:"fallback_stored,omitempty"`
	RequiresManualIntervention bool `json:"requires_manual_intervention,omitempty"`

	Err error `json:"-"`
}

// ErrorMessage renders the flow error for transport, if any.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
