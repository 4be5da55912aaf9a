package gateway

import (
	"context"
	"time"
)

// ReliableClient wraps a Client with rate limiting, a circuit breaker and
// retries. Wrapping order per call: limiter wait, breaker, base call, all
// inside the retry loop.
type ReliableClient struct {
	base    Client
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryPolicy

	observeWait func(time.Duration)
}

// NewReliableClient constructs a reliability-wrapped gateway client.
// Nil limiter/breaker disable the respective control.
func NewReliableClient(base Client, limiter *RateLimiter, breaker *CircuitBreaker, retry RetryPolicy) *ReliableClient {
	return &ReliableClient{
		base:    base,
		limiter: limiter,
		breaker: breaker,
		retry:   retry,
	}
}

func (c *ReliableClient) CreateCustomer(ctx context.Context, cust Customer) (string, error) {
	var id string
	err := c.do(ctx, func() error {
		var err error
		id, err = c.base.CreateCustomer(ctx, cust)
		return err
	})
	return id, err
}

func (c *ReliableClient) FindCustomerByTaxID(ctx context.Context, taxID string) (string, error) {
	var id string
	err := c.do(ctx, func() error {
		var err error
		id, err = c.base.FindCustomerByTaxID(ctx, taxID)
		return err
	})
	return id, err
}

func (c *ReliableClient) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	var charge Charge
	err := c.do(ctx, func() error {
		var err error
		charge, err = c.base.CreateCharge(ctx, req)
		return err
	})
	return charge, err
}

func (c *ReliableClient) GetChargeStatus(ctx context.Context, chargeID string) (Charge, error) {
	var charge Charge
	err := c.do(ctx, func() error {
		var err error
		charge, err = c.base.GetChargeStatus(ctx, chargeID)
		return err
	})
	return charge, err
}

func (c *ReliableClient) Refund(ctx context.Context, chargeID string, amount float64) error {
	return c.do(ctx, func() error {
		return c.base.Refund(ctx, chargeID, amount)
	})
}

func (c *ReliableClient) DeleteCharge(ctx context.Context, chargeID string) error {
	return c.do(ctx, func() error {
		return c.base.DeleteCharge(ctx, chargeID)
	})
}

func (c *ReliableClient) ConfigureSplit(ctx context.Context, chargeID string, entries []SplitEntry) error {
	return c.do(ctx, func() error {
		return c.base.ConfigureSplit(ctx, chargeID, entries)
	})
}

// ObserveWaits registers a callback invoked with the time each call spent
// throttled behind the rate limiter.
func (c *ReliableClient) ObserveWaits(fn func(time.Duration)) {
	c.observeWait = fn
}

func (c *ReliableClient) do(ctx context.Context, fn func() error) error {
	attempt := func() error {
		if c.limiter != nil {
			start := time.Now()
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			if c.observeWait != nil {
				c.observeWait(time.Since(start))
			}
		}
		if c.breaker != nil {
			return c.breaker.Execute(fn)
		}
		return fn()
	}
	return c.retry.Do(ctx, attempt)
}
