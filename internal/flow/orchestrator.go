package flow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"memberflow/internal/gateway"
	"memberflow/internal/membership"
	"memberflow/internal/observability"
	"memberflow/internal/polling"
	"memberflow/internal/split"
	"memberflow/internal/status"
)

// ChargePoller is the polling surface the orchestrator needs.
type ChargePoller interface {
	Poll(ctx context.Context, chargeID string, opts polling.Options) (polling.Result, error)
}

// DefaultRegistryGrace is how long a terminal flow stays readable in the
// registry before eviction. Long enough for the client's final status poll;
// the durable store keeps the full trail afterwards.
const DefaultRegistryGrace = 5 * time.Minute

// Orchestrator runs the payment-first registration state machine. Each
// invocation is a single sequential chain of steps; independent flows may
// run concurrently without shared state beyond the registry.
type Orchestrator struct {
	gateway     gateway.Client
	poller      ChargePoller
	store       Store
	fallback    FallbackStore
	provisioner Provisioner
	plans       PlanCatalog
	affiliates  AffiliateDirectory
	registry    Registry
	publisher   status.Publisher
	metrics     *observability.Metrics
	wallets     split.Wallets
	pollOpts    polling.Options

	registryGrace time.Duration
	evictAfter    func(d time.Duration, fn func())

	logf      func(format string, args ...any)
	newFlowID func() string
	now       func() time.Time
}

// Config carries the orchestrator's collaborators. Gateway, Store, Fallback,
// Provisioner and Plans are required; the rest default sensibly.
type Config struct {
	Gateway     gateway.Client
	Poller      ChargePoller
	Store       Store
	Fallback    FallbackStore
	Provisioner Provisioner
	Plans       PlanCatalog
	Affiliates  AffiliateDirectory
	Registry    Registry
	Publisher   status.Publisher
	Metrics     *observability.Metrics
	Wallets     split.Wallets
	PollOptions polling.Options
	// RegistryGrace is how long a terminal flow stays readable in the
	// registry before eviction. Zero means DefaultRegistryGrace.
	RegistryGrace time.Duration
	Logf          func(format string, args ...any)
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway client required")
	}
	if cfg.Store == nil {
		return nil, errors.New("flow store required")
	}
	if cfg.Fallback == nil {
		return nil, errors.New("fallback store required")
	}
	if cfg.Provisioner == nil {
		return nil, errors.New("provisioner required")
	}
	if cfg.Plans == nil {
		return nil, errors.New("plan catalog required")
	}
	if cfg.Poller == nil {
		cfg.Poller = polling.NewPoller(cfg.Gateway)
	}
	if cfg.Registry == nil {
		cfg.Registry = NewMemoryRegistry()
	}
	if cfg.RegistryGrace <= 0 {
		cfg.RegistryGrace = DefaultRegistryGrace
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	return &Orchestrator{
		gateway:     cfg.Gateway,
		poller:      cfg.Poller,
		store:       cfg.Store,
		fallback:    cfg.Fallback,
		provisioner: cfg.Provisioner,
		plans:       cfg.Plans,
		affiliates:  cfg.Affiliates,
		registry:    cfg.Registry,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		wallets:     cfg.Wallets,
		pollOpts:    cfg.PollOptions,

		registryGrace: cfg.RegistryGrace,
		evictAfter:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },

		logf:      cfg.Logf,
		newFlowID: func() string { return uuid.NewString() },
		now:       time.Now,
	}, nil
}

// Validate runs the stateless field checks without touching any service.
func (o *Orchestrator) Validate(req membership.RegistrationRequest) []membership.FieldError {
	return membership.Validate(req)
}

// Flow returns the registry snapshot for a flow id.
func (o *Orchestrator) Flow(flowID string) (Context, bool) {
	return o.registry.Get(flowID)
}

// ProcessRegistration executes the five-step flow for one registrant.
func (o *Orchestrator) ProcessRegistration(ctx context.Context, req membership.RegistrationRequest) Result {
	span := o.metrics.Start("ProcessRegistration")
	result := o.process(ctx, req)
	span.End(result.Err)
	return result
}

func (o *Orchestrator) process(ctx context.Context, req membership.RegistrationRequest) Result {
	start := o.now()
	fc := &Context{
		ID:        o.newFlowID(),
		Request:   req,
		Email:     req.Email,
		Outcome:   OutcomeRunning,
		CreatedAt: start,
		UpdatedAt: start,
	}
	o.registry.Put(*fc)

	result := Result{FlowID: fc.ID}
	finish := func(r Result) Result {
		r.Steps = fc.Steps
		r.Duration = o.now().Sub(start)
		return r
	}

	// Step 1: validation. Aborts before any durable or gateway state.
	if errs := membership.Validate(req); len(errs) > 0 {
		o.recordStep(ctx, fc, StepValidation, StepFailed, membership.FormatErrors(errs))
		o.settle(ctx, fc, OutcomeFailed)
		result.Err = &ValidationError{Fields: errs}
		return finish(result)
	}
	o.recordStep(ctx, fc, StepValidation, StepSuccess, "registration data validated")

	amount, err := o.plans.PlanValue(ctx, req.PlanID)
	if err != nil {
		o.recordStep(ctx, fc, StepValidation, StepFailed, "unknown plan: "+req.PlanID)
		o.settle(ctx, fc, OutcomeFailed)
		result.Err = &ValidationError{Fields: []membership.FieldError{{Field: "plan_id", Message: "unknown plan"}}}
		return finish(result)
	}

	// Durable attempt with idempotency. A replayed key with a live charge
	// resumes that charge instead of creating a duplicate.
	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = DeriveIdempotencyKey(req)
	}
	attempt, created, err := o.store.Begin(ctx, idemKey, fc.ID, req.Email, amount)
	if err != nil {
		o.recordStep(ctx, fc, StepValidation, StepFailed, "flow store unavailable")
		o.settle(ctx, fc, OutcomeFailed)
		result.Err = fmt.Errorf("begin flow: %w", err)
		return finish(result)
	}
	if !created {
		if attempt.Status == OutcomeCompleted {
			result.Success = true
			result.ChargeID = attempt.ChargeID
			o.recordStep(ctx, fc, StepValidation, StepSuccess, "duplicate submission; registration already completed")
			o.settle(ctx, fc, OutcomeCompleted)
			return finish(result)
		}
		if attempt.ChargeID != "" {
			fc.ChargeID = attempt.ChargeID
			result.ChargeID = attempt.ChargeID
			o.logf("flow %s resuming charge %s for idempotency key", fc.ID, attempt.ChargeID)
		}
		// Track step records under the original flow id so the durable
		// trail stays in one place. The provisional entry registered above
		// would otherwise linger as a running flow nobody settles.
		if attempt.FlowID != fc.ID {
			o.registry.Delete(fc.ID)
		}
		fc.ID = attempt.FlowID
		result.FlowID = attempt.FlowID
	}

	// Step 2: gateway customer. "Already exists" falls back to lookup.
	customerID, err := o.resolveCustomer(ctx, req)
	if err != nil {
		o.recordStepErr(ctx, fc, StepCustomer, "creating gateway customer failed", err)
		o.settle(ctx, fc, OutcomeFailed)
		result.Err = &GatewayError{Op: "create customer", Err: err}
		return finish(result)
	}
	result.CustomerID = customerID
	o.recordStep(ctx, fc, StepCustomer, StepSuccess, "gateway customer "+customerID)

	// Step 3: create charge, unless a live one was resumed.
	if fc.ChargeID == "" {
		charge, err := o.createCharge(ctx, req, customerID, amount, fc.ID)
		if err != nil {
			// No money changed hands; fail cleanly, no fallback needed.
			o.recordStepErr(ctx, fc, StepCreateCharge, "creating charge failed", err)
			o.settle(ctx, fc, OutcomeFailed)
			result.Err = &GatewayError{Op: "create charge", Err: err}
			return finish(result)
		}
		fc.ChargeID = charge.ID
		result.ChargeID = charge.ID
		if err := o.store.AttachCharge(ctx, fc.ID, charge.ID); err != nil {
			o.logf("flow %s: attach charge %s: %v", fc.ID, charge.ID, err)
		}
		o.recordStep(ctx, fc, StepCreateCharge, StepSuccess, "charge "+charge.ID)
		o.publishStatus(ctx, fc, string(charge.Status), StepCreateCharge)

		if done, res := o.awaitConfirmation(ctx, fc, req, charge, &result); done {
			return finish(res)
		}
	} else {
		o.recordStep(ctx, fc, StepCreateCharge, StepSuccess, "reusing charge "+fc.ChargeID)
		charge, err := o.gateway.GetChargeStatus(ctx, fc.ChargeID)
		if err != nil {
			o.storeFallback(ctx, fc, req, "", FallbackSubscription, err)
			o.recordStepErr(ctx, fc, StepConfirmation, "status query failed", err)
			o.settle(ctx, fc, OutcomeFallback)
			result.FallbackStored = true
			result.Err = &GatewayError{Op: "charge status", Err: err}
			return finish(result)
		}
		if done, res := o.awaitConfirmation(ctx, fc, req, charge, &result); done {
			return finish(res)
		}
	}

	// Step 4b: commission split, computed with the redistribute policy so
	// the recorded shares always cover the full amount, then validated
	// before the gateway sees it.
	o.configureSplit(ctx, fc, req, amount)

	// Step 5: provision account. The charge is confirmed from here on, so
	// every failure path stores a fallback record.
	userID, err := o.provisioner.CreateAccount(ctx, req)
	if err != nil {
		o.storeFallback(ctx, fc, req, result.CustomerID, FallbackCompletion, err)
		o.recordStepErr(ctx, fc, StepProvision, "account creation failed", err)
		o.settle(ctx, fc, OutcomeFallback)
		result.FallbackStored = true
		result.RequiresManualIntervention = errors.Is(err, ErrEmailTaken)
		result.Err = &PartialFailure{ChargeID: fc.ChargeID, Step: "create account", Err: err}
		return finish(result)
	}
	result.UserID = userID

	subscriptionID, err := o.provisioner.ActivateMembership(ctx, userID, req, fc.ChargeID, result.CustomerID)
	if err != nil {
		o.storeFallback(ctx, fc, req, result.CustomerID, FallbackCompletion, err)
		o.recordStepErr(ctx, fc, StepProvision, "membership activation failed", err)
		o.settle(ctx, fc, OutcomeFallback)
		result.FallbackStored = true
		result.Err = &PartialFailure{ChargeID: fc.ChargeID, Step: "activate membership", Err: err}
		return finish(result)
	}
	result.SubscriptionID = subscriptionID
	o.recordStep(ctx, fc, StepProvision, StepSuccess, "account "+userID+" provisioned")

	o.settle(ctx, fc, OutcomeCompleted)
	o.publishStatus(ctx, fc, string(gateway.StatusConfirmed), StepProvision)
	result.Success = true
	return finish(result)
}

// awaitConfirmation handles step 4. It returns done=true with a final
// result when the flow cannot proceed to provisioning.
func (o *Orchestrator) awaitConfirmation(ctx context.Context, fc *Context, req membership.RegistrationRequest, charge gateway.Charge, result *Result) (bool, Result) {
	if charge.Status == gateway.StatusConfirmed {
		o.recordStep(ctx, fc, StepConfirmation, StepSuccess, "payment confirmed")
		o.publishStatus(ctx, fc, string(gateway.StatusConfirmed), StepConfirmation)
		return false, Result{}
	}
	if charge.Status == gateway.StatusRefused {
		o.recordStep(ctx, fc, StepConfirmation, StepFailed, "payment refused")
		o.settle(ctx, fc, OutcomeFailed)
		result.Err = polling.ErrPaymentRefused
		return true, *result
	}

	pollRes, err := o.poller.Poll(ctx, charge.ID, o.pollOpts)
	result.StillPending = false
	switch {
	case err == nil && pollRes.Success:
		o.recordStep(ctx, fc, StepConfirmation, StepSuccess,
			fmt.Sprintf("payment confirmed after %d attempts", pollRes.Attempts))
		o.publishStatus(ctx, fc, string(gateway.StatusConfirmed), StepConfirmation)
		return false, Result{}

	case errors.Is(err, polling.ErrPaymentRefused):
		o.recordStep(ctx, fc, StepConfirmation, StepFailed, "payment refused")
		o.settle(ctx, fc, OutcomeFailed)
		o.publishStatus(ctx, fc, string(gateway.StatusRefused), StepConfirmation)
		result.Err = polling.ErrPaymentRefused
		return true, *result

	case errors.Is(err, polling.ErrPollTimeout):
		// Not a business failure: the charge may still confirm via
		// webhook. Persist the trail so reconciliation can finish.
		o.storeFallback(ctx, fc, req, result.CustomerID, FallbackSubscription, err)
		o.recordStep(ctx, fc, StepConfirmation, StepFailed, "confirmation timed out; will resume on webhook")
		o.settle(ctx, fc, OutcomePending)
		result.StillPending = true
		result.FallbackStored = true
		result.Err = polling.ErrPollTimeout
		return true, *result

	default:
		// Charge exists but its state is unknown; never drop the flow.
		o.storeFallback(ctx, fc, req, result.CustomerID, FallbackSubscription, err)
		o.recordStepErr(ctx, fc, StepConfirmation, "confirmation failed", err)
		o.settle(ctx, fc, OutcomeFallback)
		result.FallbackStored = true
		result.Err = &GatewayError{Op: "poll status", Err: err}
		return true, *result
	}
}

func (o *Orchestrator) resolveCustomer(ctx context.Context, req membership.RegistrationRequest) (string, error) {
	customerID, err := o.gateway.CreateCustomer(ctx, gateway.Customer{
		Name:         req.Name,
		TaxID:        req.TaxID,
		Email:        req.Email,
		Phone:        req.Phone,
		Street:       req.Address.Street,
		Number:       req.Address.Number,
		Complement:   req.Address.Complement,
		Neighborhood: req.Address.Neighborhood,
		PostalCode:   req.Address.PostalCode,
		City:         req.Address.City,
		State:        req.Address.State,
	})
	if err == nil {
		return customerID, nil
	}
	if errors.Is(err, gateway.ErrCustomerExists) {
		return o.gateway.FindCustomerByTaxID(ctx, req.TaxID)
	}
	return "", err
}

func (o *Orchestrator) createCharge(ctx context.Context, req membership.RegistrationRequest, customerID string, amount float64, flowID string) (gateway.Charge, error) {
	chargeReq := gateway.ChargeRequest{
		CustomerID:  customerID,
		BillingType: string(req.Method),
		Value:       amount,
		DueDate:     o.now().Format("2006-01-02"),
		Description: "Filiação COMADEMIG - " + string(req.Tier),
		ExternalRef: "filiacao_" + flowID,
	}
	if req.Method == membership.MethodCard && req.Card != nil {
		chargeReq.Card = &gateway.CardDetails{
			HolderName:  req.Card.HolderName,
			Number:      req.Card.Number,
			ExpiryMonth: req.Card.ExpiryMonth,
			ExpiryYear:  req.Card.ExpiryYear,
			CCV:         req.Card.CCV,
		}
	}
	return o.gateway.CreateCharge(ctx, chargeReq)
}

func (o *Orchestrator) configureSplit(ctx context.Context, fc *Context, req membership.RegistrationRequest, amount float64) {
	wallets := o.wallets
	if req.AffiliateID != "" && o.affiliates != nil {
		wallet, err := o.affiliates.WalletFor(ctx, req.AffiliateID)
		if err != nil {
			o.logf("flow %s: affiliate %s wallet lookup: %v", fc.ID, req.AffiliateID, err)
		} else {
			wallets.Affiliate = wallet
		}
	}

	entries, err := split.CalculateWithPolicy(amount, split.ServiceMembership, wallets, split.PolicyRedistribute)
	if err == nil {
		err = split.Validate(entries, amount)
	}
	if err != nil {
		// Rejected before any gateway call; funds stay with the platform
		// account and the step is flagged for follow-up.
		cfgErr := &ConfigurationError{Reason: "split configuration invalid", Err: err}
		o.recordStepErr(ctx, fc, StepSplit, "split rejected", cfgErr)
		return
	}

	gwEntries := split.GatewayEntries(entries)
	if len(gwEntries) == 0 {
		o.recordStep(ctx, fc, StepSplit, StepSuccess, "no gateway split needed")
		return
	}
	payload := make([]gateway.SplitEntry, len(gwEntries))
	for i, e := range gwEntries {
		payload[i] = gateway.SplitEntry{WalletID: e.WalletID, Percentage: e.Percentage}
	}
	if err := o.gateway.ConfigureSplit(ctx, fc.ChargeID, payload); err != nil {
		o.recordStepErr(ctx, fc, StepSplit, "gateway split configuration failed", err)
		return
	}
	o.recordStep(ctx, fc, StepSplit, StepSuccess,
		fmt.Sprintf("split configured for %d recipient(s)", len(gwEntries)))
}

func (o *Orchestrator) storeFallback(ctx context.Context, fc *Context, req membership.RegistrationRequest, customerID string, kind FallbackKind, cause error) {
	rec := FallbackRecord{
		ChargeID:   fc.ChargeID,
		CustomerID: customerID,
		FlowID:     fc.ID,
		Kind:       kind,
		Request:    req,
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if err := o.fallback.Store(ctx, rec); err != nil {
		// Last line of defense failed; log loudly so operators can act.
		o.logf("flow %s: CRITICAL storing fallback for charge %s: %v", fc.ID, fc.ChargeID, err)
	}
}

// recordStep appends a step transition to the flow context, the durable
// store and the registry. The orchestrator never skips recording a step.
func (o *Orchestrator) recordStep(ctx context.Context, fc *Context, name string, st StepStatus, message string) {
	step := ProcessingStep{Name: name, Status: st, Message: message, At: o.now()}
	fc.Steps = append(fc.Steps, step)
	fc.UpdatedAt = step.At
	if err := o.store.AddStep(ctx, fc.ID, step); err != nil {
		o.logf("flow %s: persist step %s: %v", fc.ID, name, err)
	}
	o.registry.Put(*fc)
}

func (o *Orchestrator) recordStepErr(ctx context.Context, fc *Context, name, message string, cause error) {
	step := ProcessingStep{Name: name, Status: StepFailed, Message: message, At: o.now()}
	if cause != nil {
		step.Error = cause.Error()
	}
	fc.Steps = append(fc.Steps, step)
	fc.UpdatedAt = step.At
	if err := o.store.AddStep(ctx, fc.ID, step); err != nil {
		o.logf("flow %s: persist step %s: %v", fc.ID, name, err)
	}
	o.registry.Put(*fc)
}

// settle records the terminal outcome and schedules registry eviction.
func (o *Orchestrator) settle(ctx context.Context, fc *Context, outcome Outcome) {
	fc.Outcome = outcome
	fc.UpdatedAt = o.now()
	if err := o.store.SetStatus(ctx, fc.ID, outcome); err != nil {
		o.logf("flow %s: persist outcome %s: %v", fc.ID, outcome, err)
	}
	o.registry.Put(*fc)

	// The terminal snapshot stays readable for late status polls, then the
	// context leaves memory. The durable store keeps the full trail.
	id := fc.ID
	o.evictAfter(o.registryGrace, func() { o.registry.Delete(id) })
}

func (o *Orchestrator) publishStatus(ctx context.Context, fc *Context, chargeStatus, step string) {
	if o.publisher == nil {
		return
	}
	ev := status.Event{
		FlowID:     fc.ID,
		ChargeID:   fc.ChargeID,
		Status:     chargeStatus,
		Step:       step,
		OccurredAt: o.now(),
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logf("flow %s: publish status: %v", fc.ID, err)
	}
}

// DeriveIdempotencyKey produces a stable key from the registrant and tier so
// a retried submission maps onto the same attempt.
func DeriveIdempotencyKey(req membership.RegistrationRequest) string {
	h := sha256.Sum256([]byte(strings.Join([]string{req.TaxID, string(req.Tier), req.PlanID}, "|")))
	return hex.EncodeToString(h[:16])
}
