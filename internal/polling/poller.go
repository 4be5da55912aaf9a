// Package polling watches a pending charge until the gateway reports a
// terminal state or a wall-clock timeout elapses. It exists so the UI can
// give quick feedback without waiting for webhook delivery.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"memberflow/internal/gateway"
)

// Default production parameters. Policy constants, overridable per call.
const (
	DefaultTimeout  = 15 * time.Second
	DefaultInterval = 1 * time.Second
)

// ErrPaymentRefused is returned when the gateway reports a refused charge.
var ErrPaymentRefused = errors.New("payment refused")

// ErrPollTimeout is returned when the timeout elapses with the charge still
// pending. It is not a hard failure; the caller should ask again later.
var ErrPollTimeout = errors.New("payment status polling timed out")

// ErrPollCancelled is returned when a poll is cancelled, either explicitly
// or by a newer poll for the same charge superseding it.
var ErrPollCancelled = errors.New("payment status polling cancelled")

// UnexpectedStatusError reports a status outside the poll protocol
// (e.g. CANCELLED).
type UnexpectedStatusError struct {
	Status gateway.ChargeStatus
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected charge status: %s", e.Status)
}

// StatusClient is the narrow gateway surface the poller needs.
type StatusClient interface {
	GetChargeStatus(ctx context.Context, chargeID string) (gateway.Charge, error)
}

// Options bounds one poll call.
type Options struct {
	Timeout     time.Duration
	Interval    time.Duration
	MaxAttempts int // 0 means Timeout/Interval
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = int(o.Timeout / o.Interval)
		if o.MaxAttempts < 1 {
			o.MaxAttempts = 1
		}
	}
	return o
}

// Result summarises a finished poll. Attempts and Duration are populated on
// every outcome, including failures.
type Result struct {
	Success  bool            `json:"success"`
	TimedOut bool            `json:"timed_out,omitempty"`
	Attempts int             `json:"attempts"`
	Duration time.Duration   `json:"duration_ms"`
	Charge   *gateway.Charge `json:"charge,omitempty"`
}

type pollHandle struct {
	cancel context.CancelFunc
}

// Poller multiplexes concurrent per-charge polling loops and keeps at most
// one active poll per charge identifier.
type Poller struct {
	client StatusClient

	mu     sync.Mutex
	active map[string]*pollHandle

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewPoller constructs a Poller over the given status client.
func NewPoller(client StatusClient) *Poller {
	return &Poller{
		client: client,
		active: make(map[string]*pollHandle),
		now:    time.Now,
		sleep:  gateway.SleepWithContext,
	}
}

// Poll queries the charge status at a fixed interval until a terminal state,
// cancellation, or the timeout. Starting a poll for a charge that already has
// one cancels and replaces the previous poll.
func (p *Poller) Poll(ctx context.Context, chargeID string, opts Options) (Result, error) {
	if chargeID == "" {
		return Result{}, errors.New("charge id required")
	}
	opts = opts.withDefaults()

	pollCtx, cancel := context.WithCancel(ctx)
	handle := &pollHandle{cancel: cancel}

	p.mu.Lock()
	if prev, ok := p.active[chargeID]; ok {
		prev.cancel()
	}
	p.active[chargeID] = handle
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.active[chargeID] == handle {
			delete(p.active, chargeID)
		}
		p.mu.Unlock()
		cancel()
	}()

	start := p.now()
	result := Result{}
	finish := func() Result {
		result.Duration = p.now().Sub(start)
		return result
	}

	for {
		if err := pollCtx.Err(); err != nil {
			return finish(), fmt.Errorf("%w: %v", ErrPollCancelled, err)
		}
		if p.now().Sub(start) >= opts.Timeout || result.Attempts >= opts.MaxAttempts {
			result.TimedOut = true
			return finish(), ErrPollTimeout
		}

		result.Attempts++
		charge, err := p.client.GetChargeStatus(pollCtx, chargeID)
		if err != nil {
			if pollCtx.Err() != nil {
				return finish(), fmt.Errorf("%w: %v", ErrPollCancelled, pollCtx.Err())
			}
			// Transient errors keep the loop alive unless the remaining
			// budget cannot fit another attempt.
			remaining := opts.Timeout - p.now().Sub(start)
			if remaining < opts.Interval || result.Attempts >= opts.MaxAttempts {
				return finish(), fmt.Errorf("status query failed: %w", err)
			}
			if err := p.sleep(pollCtx, opts.Interval); err != nil {
				return finish(), fmt.Errorf("%w: %v", ErrPollCancelled, err)
			}
			continue
		}

		result.Charge = &charge
		switch charge.Status {
		case gateway.StatusConfirmed:
			result.Success = true
			return finish(), nil
		case gateway.StatusRefused:
			return finish(), ErrPaymentRefused
		case gateway.StatusPending, gateway.StatusOverdue:
			if err := p.sleep(pollCtx, opts.Interval); err != nil {
				return finish(), fmt.Errorf("%w: %v", ErrPollCancelled, err)
			}
		default:
			return finish(), &UnexpectedStatusError{Status: charge.Status}
		}
	}
}

// Cancel stops the active poll for a charge, if any. The cancelled loop
// observes the signal before its next status query.
func (p *Poller) Cancel(chargeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle, ok := p.active[chargeID]
	if !ok {
		return false
	}
	handle.cancel()
	delete(p.active, chargeID)
	return true
}

// IsPolling reports whether the charge currently has an active poll.
func (p *Poller) IsPolling(chargeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[chargeID]
	return ok
}
