package membersdb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"memberflow/internal/flow"
	"memberflow/internal/membership"
)

// InMemoryProvisioner is a development stand-in for the Postgres account
// store. Safe for concurrent use.
type InMemoryProvisioner struct {
	mu     sync.Mutex
	emails map[string]string
	nextID int
}

// NewInMemoryProvisioner constructs an empty provisioner.
func NewInMemoryProvisioner() *InMemoryProvisioner {
	return &InMemoryProvisioner{emails: make(map[string]string)}
}

// CreateAccount registers the email and returns a generated user id.
func (p *InMemoryProvisioner) CreateAccount(_ context.Context, req membership.RegistrationRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email := strings.ToLower(req.Email)
	if _, taken := p.emails[email]; taken {
		return "", flow.ErrEmailTaken
	}

	p.nextID++
	userID := fmt.Sprintf("usr_%06d", p.nextID)
	p.emails[email] = userID
	return userID, nil
}

// ActivateMembership returns a generated subscription id.
func (p *InMemoryProvisioner) ActivateMembership(_ context.Context, userID string, _ membership.RegistrationRequest, _, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	return fmt.Sprintf("sub_%06d", p.nextID), nil
}

// StaticPlanCatalog resolves plans from a fixed map.
type StaticPlanCatalog struct {
	plans map[string]float64
}

// NewStaticPlanCatalog copies the given plan map.
func NewStaticPlanCatalog(plans map[string]float64) *StaticPlanCatalog {
	copied := make(map[string]float64, len(plans))
	for id, amount := range plans {
		copied[id] = amount
	}
	return &StaticPlanCatalog{plans: copied}
}

// DefaultPlans are the seed plans used when no database is configured.
func DefaultPlans() map[string]float64 {
	return map[string]float64{
		"plano-bispo":   35.0,
		"plano-pastor":  25.0,
		"plano-diacono": 15.0,
		"plano-membro":  10.0,
	}
}

// PlanValue returns the amount for a known plan.
func (c *StaticPlanCatalog) PlanValue(_ context.Context, planID string) (float64, error) {
	amount, ok := c.plans[planID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return amount, nil
}
