package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"memberflow/internal/flow"
	"memberflow/internal/split"
	"memberflow/internal/status"
)

// Gateway event types the consumer acts on.
const (
	EventPaymentConfirmed = "PAYMENT_CONFIRMED"
	EventPaymentReceived  = "PAYMENT_RECEIVED"
	EventPaymentOverdue   = "PAYMENT_OVERDUE"
	EventPaymentRefunded  = "PAYMENT_REFUNDED"
	EventPaymentDeleted   = "PAYMENT_DELETED"
)

// ErrMalformedEvent reports a delivery whose payload cannot be acted on.
var ErrMalformedEvent = errors.New("malformed webhook event")

// PaymentNotice is the charge snapshot inside a delivery.
type PaymentNotice struct {
	ID                string  `json:"id"`
	Value             float64 `json:"value"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"externalReference"`
}

// Event is one gateway delivery.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"event"`
	DateCreated string         `json:"dateCreated"`
	Payment     *PaymentNotice `json:"payment"`
}

// Ledger deduplicates deliveries by event id. Record claims an event; it
// refuses only events whose side effects already committed (MarkProcessed),
// so a delivery that failed mid-way stays claimable for the gateway's retry.
type Ledger interface {
	Record(ctx context.Context, eventID, eventType, chargeID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// FallbackSource reads and resolves stored fallback records.
type FallbackSource interface {
	Pending(ctx context.Context, chargeID string) (flow.FallbackRecord, bool, error)
	Resolve(ctx context.Context, chargeID string) error
}

// FlowStatusStore reads and updates the durable flow attempts.
type FlowStatusStore interface {
	SetStatus(ctx context.Context, flowID string, status flow.Outcome) error
	FindByCharge(ctx context.Context, chargeID string) (flow.Attempt, bool, error)
}

// CommissionLedger records the computed payout shares of a confirmed charge.
type CommissionLedger interface {
	RecordCommissions(ctx context.Context, chargeID string, entries []split.Entry) error
}

// Result summarizes what one delivery did.
type Result struct {
	EventID          string `json:"event_id"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Completed        bool   `json:"completed,omitempty"`
	UserID           string `json:"user_id,omitempty"`
	SubscriptionID   string `json:"subscription_id,omitempty"`
	Ignored          bool   `json:"ignored,omitempty"`
}

// Consumer turns authenticated deliveries into registration completions and
// status updates. All side effects are idempotent: a redelivery is a no-op.
type Consumer struct {
	ledger      Ledger
	fallbacks   FallbackSource
	flows       FlowStatusStore
	provisioner flow.Provisioner
	plans       flow.PlanCatalog
	commissions CommissionLedger
	publisher   status.Publisher
	wallets     split.Wallets
	logf        func(format string, args ...any)
}

// ConsumerConfig wires the consumer's collaborators. Ledger, Fallbacks and
// Provisioner are required; the rest degrade to no-ops.
type ConsumerConfig struct {
	Ledger      Ledger
	Fallbacks   FallbackSource
	Flows       FlowStatusStore
	Provisioner flow.Provisioner
	Plans       flow.PlanCatalog
	Commissions CommissionLedger
	Publisher   status.Publisher
	Wallets     split.Wallets
	Logf        func(format string, args ...any)
}

// NewConsumer validates the wiring and builds a Consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("webhook consumer requires an event ledger")
	}
	if cfg.Fallbacks == nil {
		return nil, errors.New("webhook consumer requires a fallback source")
	}
	if cfg.Provisioner == nil {
		return nil, errors.New("webhook consumer requires a provisioner")
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}

	return &Consumer{
		ledger:      cfg.Ledger,
		fallbacks:   cfg.Fallbacks,
		flows:       cfg.Flows,
		provisioner: cfg.Provisioner,
		plans:       cfg.Plans,
		commissions: cfg.Commissions,
		publisher:   cfg.Publisher,
		wallets:     cfg.Wallets,
		logf:        cfg.Logf,
	}, nil
}

// Parse decodes and structurally validates a delivery body.
func Parse(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.ID == "" || event.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or event type", ErrMalformedEvent)
	}
	if event.Payment == nil || event.Payment.ID == "" {
		return Event{}, fmt.Errorf("%w: missing payment", ErrMalformedEvent)
	}
	return event, nil
}

// Process applies one delivery. The ledger guarantees at-most-once side
// effects across redeliveries.
func (c *Consumer) Process(ctx context.Context, event Event) (Result, error) {
	result := Result{EventID: event.ID}

	claimed, err := c.ledger.Record(ctx, event.ID, event.Type, event.Payment.ID)
	if err != nil {
		return result, fmt.Errorf("record webhook event: %w", err)
	}
	if !claimed {
		result.AlreadyProcessed = true
		return result, nil
	}

	switch event.Type {
	case EventPaymentConfirmed, EventPaymentReceived:
		if err := c.completePending(ctx, event, &result); err != nil {
			return result, err
		}
	case EventPaymentOverdue, EventPaymentRefunded, EventPaymentDeleted:
		c.failPending(ctx, event)
	default:
		result.Ignored = true
	}

	if err := c.ledger.MarkProcessed(ctx, event.ID); err != nil {
		c.logf("webhook: mark processed %s: %v", event.ID, err)
	}

	return result, nil
}

// completePending finishes a registration whose charge confirmed out of
// band. No stored fallback means the synchronous flow already finished.
func (c *Consumer) completePending(ctx context.Context, event Event, result *Result) error {
	chargeID := event.Payment.ID

	rec, found, err := c.fallbacks.Pending(ctx, chargeID)
	if err != nil {
		return fmt.Errorf("load fallback for %s: %w", chargeID, err)
	}
	if !found {
		c.confirmAttempt(ctx, chargeID)
		result.Ignored = true
		return nil
	}

	userID, err := c.provisioner.CreateAccount(ctx, rec.Request)
	if err != nil {
		if errors.Is(err, flow.ErrEmailTaken) {
			c.logf("webhook: account for %s already exists, flow %s needs manual completion", chargeID, rec.FlowID)
			return fmt.Errorf("complete %s: %w", chargeID, err)
		}
		return fmt.Errorf("create account for %s: %w", chargeID, err)
	}

	subscriptionID, err := c.provisioner.ActivateMembership(ctx, userID, rec.Request, chargeID, rec.CustomerID)
	if err != nil {
		return fmt.Errorf("activate membership for %s: %w", chargeID, err)
	}

	if err := c.fallbacks.Resolve(ctx, chargeID); err != nil {
		c.logf("webhook: resolve fallback %s: %v", chargeID, err)
	}
	c.setFlowStatus(ctx, rec.FlowID, flow.OutcomeCompleted)
	c.recordCommissions(ctx, event, rec)
	c.publish(ctx, rec.FlowID, chargeID, "CONFIRMED")

	result.Completed = true
	result.UserID = userID
	result.SubscriptionID = subscriptionID
	return nil
}

// failPending marks the owning flow failed when its charge dies.
func (c *Consumer) failPending(ctx context.Context, event Event) {
	chargeID := event.Payment.ID

	rec, found, err := c.fallbacks.Pending(ctx, chargeID)
	if err != nil {
		return
	}
	if !found {
		// No fallback to cancel, but the owning attempt must not stay
		// parked as pending once its charge is dead.
		attempt, ok := c.attemptByCharge(ctx, chargeID)
		if !ok || attempt.Status == flow.OutcomeCompleted {
			return
		}
		c.setFlowStatus(ctx, attempt.FlowID, flow.OutcomeFailed)
		c.publish(ctx, attempt.FlowID, chargeID, event.Payment.Status)
		return
	}

	c.setFlowStatus(ctx, rec.FlowID, flow.OutcomeFailed)
	c.publish(ctx, rec.FlowID, chargeID, event.Payment.Status)
}

// confirmAttempt correlates a confirmed charge with its flow attempt when no
// fallback record exists. Usually the synchronous flow already finished; a
// non-terminal attempt here means the fallback write was lost, and the paid
// registrant can only be completed by an operator.
func (c *Consumer) confirmAttempt(ctx context.Context, chargeID string) {
	attempt, ok := c.attemptByCharge(ctx, chargeID)
	if !ok {
		return
	}
	c.publish(ctx, attempt.FlowID, chargeID, "CONFIRMED")
	if attempt.Status == flow.OutcomeRunning || attempt.Status == flow.OutcomePending {
		c.logf("webhook: confirmed charge %s owns flow %s with no fallback record, manual completion needed", chargeID, attempt.FlowID)
	}
}

func (c *Consumer) attemptByCharge(ctx context.Context, chargeID string) (flow.Attempt, bool) {
	if c.flows == nil {
		return flow.Attempt{}, false
	}
	attempt, ok, err := c.flows.FindByCharge(ctx, chargeID)
	if err != nil {
		c.logf("webhook: find attempt for charge %s: %v", chargeID, err)
		return flow.Attempt{}, false
	}
	return attempt, ok
}

func (c *Consumer) recordCommissions(ctx context.Context, event Event, rec flow.FallbackRecord) {
	if c.commissions == nil {
		return
	}

	amount := event.Payment.Value
	if amount <= 0 && c.plans != nil {
		if planValue, err := c.plans.PlanValue(ctx, rec.Request.PlanID); err == nil {
			amount = planValue
		}
	}
	if amount <= 0 {
		return
	}

	wallets := c.wallets
	wallets.Affiliate = rec.Request.AffiliateID

	entries, err := split.CalculateWithPolicy(amount, split.ServiceMembership, wallets, split.PolicyRedistribute)
	if err != nil {
		c.logf("webhook: split for %s: %v", event.Payment.ID, err)
		return
	}
	if err := c.commissions.RecordCommissions(ctx, event.Payment.ID, entries); err != nil {
		c.logf("webhook: record commissions for %s: %v", event.Payment.ID, err)
	}
}

func (c *Consumer) setFlowStatus(ctx context.Context, flowID string, outcome flow.Outcome) {
	if c.flows == nil || flowID == "" {
		return
	}
	if err := c.flows.SetStatus(ctx, flowID, outcome); err != nil {
		c.logf("webhook: set flow %s status %s: %v", flowID, outcome, err)
	}
}

func (c *Consumer) publish(ctx context.Context, flowID, chargeID, chargeStatus string) {
	if c.publisher == nil {
		return
	}
	event := status.Event{
		FlowID:     flowID,
		ChargeID:   chargeID,
		Status:     chargeStatus,
		OccurredAt: time.Now().UTC(),
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logf("webhook: publish status for %s: %v", chargeID, err)
	}
}
