package gateway

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryClient tracks customers, charges and splits in memory. It backs
// dev mode when no gateway credentials are configured, and tests.
type InMemoryClient struct {
	mu        sync.Mutex
	customers map[string]string // tax id -> customer id
	charges   map[string]Charge
	splits    map[string][]SplitEntry
	refunds   map[string]float64
	seq       int

	// CreateStatus is the status assigned to newly created charges.
	// Defaults to StatusConfirmed for card charges and StatusPending
	// otherwise.
	CreateStatus ChargeStatus
}

// NewInMemoryClient constructs an empty in-memory gateway.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		customers: make(map[string]string),
		charges:   make(map[string]Charge),
		splits:    make(map[string][]SplitEntry),
		refunds:   make(map[string]float64),
	}
}

func (c *InMemoryClient) CreateCustomer(ctx context.Context, cust Customer) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.customers[cust.TaxID]; ok {
		return "", ErrCustomerExists
	}
	c.seq++
	id := fmt.Sprintf("cus_%06d", c.seq)
	c.customers[cust.TaxID] = id
	return id, nil
}

func (c *InMemoryClient) FindCustomerByTaxID(ctx context.Context, taxID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.customers[taxID]
	if !ok {
		return "", ErrCustomerNotFound
	}
	return id, nil
}

func (c *InMemoryClient) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	status := c.CreateStatus
	if status == "" {
		status = StatusPending
		if req.Card != nil {
			status = StatusConfirmed
		}
	}
	charge := Charge{
		ID:          fmt.Sprintf("pay_%06d", c.seq),
		Status:      status,
		Value:       req.Value,
		Description: req.Description,
		ExternalRef: req.ExternalRef,
		BillingType: req.BillingType,
		DueDate:     req.DueDate,
	}
	c.charges[charge.ID] = charge
	return charge, nil
}

func (c *InMemoryClient) GetChargeStatus(ctx context.Context, chargeID string) (Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	charge, ok := c.charges[chargeID]
	if !ok {
		return Charge{}, ErrChargeNotFound
	}
	return charge, nil
}

func (c *InMemoryClient) Refund(ctx context.Context, chargeID string, amount float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.charges[chargeID]; !ok {
		return ErrChargeNotFound
	}
	c.refunds[chargeID] = amount
	return nil
}

func (c *InMemoryClient) DeleteCharge(ctx context.Context, chargeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.charges[chargeID]; !ok {
		return ErrChargeNotFound
	}
	delete(c.charges, chargeID)
	return nil
}

func (c *InMemoryClient) ConfigureSplit(ctx context.Context, chargeID string, entries []SplitEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.charges[chargeID]; !ok {
		return ErrChargeNotFound
	}
	c.splits[chargeID] = entries
	return nil
}

// SetChargeStatus moves a stored charge to the given status
// (for dev tooling and tests).
func (c *InMemoryClient) SetChargeStatus(chargeID string, status ChargeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if charge, ok := c.charges[chargeID]; ok {
		charge.Status = status
		c.charges[chargeID] = charge
	}
}

// SplitFor returns the configured split entries for a charge, if any.
func (c *InMemoryClient) SplitFor(chargeID string) []SplitEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.splits[chargeID]
}

// WasRefunded reports whether a refund was issued for the charge.
func (c *InMemoryClient) WasRefunded(chargeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.refunds[chargeID]
	return ok
}
