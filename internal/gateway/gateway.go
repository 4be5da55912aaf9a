// Package gateway defines the payment-gateway surface the rest of the
// system depends on, plus the concrete clients that implement it.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ChargeStatus is the gateway-owned state of a charge. The core only ever
// observes it.
type ChargeStatus string

const (
	StatusPending   ChargeStatus = "PENDING"
	StatusConfirmed ChargeStatus = "CONFIRMED"
	StatusRefused   ChargeStatus = "REFUSED"
	StatusOverdue   ChargeStatus = "OVERDUE"
	StatusCancelled ChargeStatus = "CANCELLED"
)

// Terminal reports whether the status can no longer change.
func (s ChargeStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusRefused, StatusCancelled:
		return true
	}
	return false
}

// Customer is a billing customer record on the gateway side.
type Customer struct {
	Name         string `json:"name"`
	TaxID        string `json:"cpfCnpj"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Street       string `json:"address,omitempty"`
	Number       string `json:"addressNumber,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"province,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ExternalRef  string `json:"externalReference,omitempty"`
}

// CardDetails is forwarded verbatim to the gateway for card charges and
// never stored.
type CardDetails struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

// ChargeRequest creates one charge against an existing gateway customer.
type ChargeRequest struct {
	CustomerID  string       `json:"customer"`
	BillingType string       `json:"billingType"`
	Value       float64      `json:"value"`
	DueDate     string       `json:"dueDate"`
	Description string       `json:"description,omitempty"`
	ExternalRef string       `json:"externalReference,omitempty"`
	Card        *CardDetails `json:"creditCard,omitempty"`
}

// Charge is the gateway's view of a created or queried charge.
type Charge struct {
	ID          string       `json:"id"`
	Status      ChargeStatus `json:"status"`
	Value       float64      `json:"value"`
	Description string       `json:"description"`
	ExternalRef string       `json:"externalReference"`
	BillingType string       `json:"billingType"`
	DueDate     string       `json:"dueDate"`
	UpdatedAt   time.Time    `json:"-"`
}

// SplitEntry instructs the gateway to route a share of a charge to a wallet.
type SplitEntry struct {
	WalletID   string  `json:"walletId"`
	Percentage float64 `json:"percentualValue"`
}

// ErrCustomerExists signals a create-customer call that collided with an
// existing record for the same tax id; callers fall back to lookup.
var ErrCustomerExists = errors.New("gateway customer already exists")

// ErrCustomerNotFound signals a lookup miss.
var ErrCustomerNotFound = errors.New("gateway customer not found")

// ErrChargeNotFound signals a status query for an unknown charge.
var ErrChargeNotFound = errors.New("charge not found")

// Client is the full gateway surface. Every call is a fallible network call;
// the gateway performs no retries of its own.
type Client interface {
	CreateCustomer(ctx context.Context, c Customer) (string, error)
	FindCustomerByTaxID(ctx context.Context, taxID string) (string, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	GetChargeStatus(ctx context.Context, chargeID string) (Charge, error)
	Refund(ctx context.Context, chargeID string, amount float64) error
	DeleteCharge(ctx context.Context, chargeID string) error
	ConfigureSplit(ctx context.Context, chargeID string, entries []SplitEntry) error
}
