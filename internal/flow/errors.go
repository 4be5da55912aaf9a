package flow

import (
	"errors"
	"fmt"

	"memberflow/internal/membership"
)

// ErrEmailTaken signals an account uniqueness conflict during provisioning.
// It is not auto-recoverable and flags the flow for manual intervention.
var ErrEmailTaken = errors.New("email already registered")

// ErrIdempotencyConflict signals an idempotency key reused with a different
// registrant payload.
var ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

// ValidationError carries the user-correctable field errors of a rejected
// request. It is returned synchronously and never retried.
type ValidationError struct {
	Fields []membership.FieldError
}

func (e *ValidationError) Error() string {
	return membership.FormatErrors(e.Fields)
}

// GatewayError wraps a network or API failure from the payment gateway,
// tagged with the operation that failed.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid split or payout configuration,
// rejected before any gateway call is made.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PartialFailure marks a flow where the charge succeeded but a downstream
// step failed. It always travels with a stored fallback record.
type PartialFailure struct {
	ChargeID string
	Step     string
	Err      error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("charge %s succeeded but %s failed: %v", e.ChargeID, e.Step, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }
