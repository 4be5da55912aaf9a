package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyClient fails a fixed number of times before succeeding.
type flakyClient struct {
	*InMemoryClient
	failures int
	calls    int
}

func (c *flakyClient) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	c.calls++
	if c.calls <= c.failures {
		return Charge{}, errors.New("connection reset")
	}
	return c.InMemoryClient.CreateCharge(ctx, req)
}

func TestReliableClient_RetriesThroughTransientFailures(t *testing.T) {
	base := &flakyClient{InMemoryClient: NewInMemoryClient(), failures: 2}
	retry := RetryPolicy{MaxAttempts: 3, Sleep: noSleep}
	client := NewReliableClient(base, nil, nil, retry)

	cusID, err := client.CreateCustomer(context.Background(), Customer{Name: "Maria", TaxID: "52998224725"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	charge, err := client.CreateCharge(context.Background(), ChargeRequest{
		CustomerID:  cusID,
		BillingType: "PIX",
		Value:       25.00,
	})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if charge.ID == "" {
		t.Error("empty charge id")
	}
	if base.calls != 3 {
		t.Errorf("base called %d times, want 3", base.calls)
	}
}

func TestReliableClient_GivesUpAfterMaxAttempts(t *testing.T) {
	base := &flakyClient{InMemoryClient: NewInMemoryClient(), failures: 10}
	retry := RetryPolicy{MaxAttempts: 2, Sleep: noSleep}
	client := NewReliableClient(base, nil, nil, retry)

	_, err := client.CreateCharge(context.Background(), ChargeRequest{Value: 25.00})
	if err == nil {
		t.Fatal("expected failure")
	}
	if base.calls != 2 {
		t.Errorf("base called %d times, want 2", base.calls)
	}
}

func TestReliableClient_BreakerShortCircuits(t *testing.T) {
	base := &flakyClient{InMemoryClient: NewInMemoryClient(), failures: 100}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	retry := RetryPolicy{MaxAttempts: 5, Sleep: noSleep}
	client := NewReliableClient(base, nil, breaker, retry)

	_, err := client.CreateCharge(context.Background(), ChargeRequest{Value: 25.00})
	if err == nil {
		t.Fatal("expected failure")
	}
	// The retry loop stops at the open breaker instead of hammering the
	// gateway for all five attempts.
	if base.calls != 2 {
		t.Errorf("base called %d times, want 2", base.calls)
	}
}

func TestReliableClient_ReportsLimiterWaits(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 2)
	retry := RetryPolicy{MaxAttempts: 1, Sleep: noSleep}
	client := NewReliableClient(NewInMemoryClient(), limiter, nil, retry)

	var waits int
	client.ObserveWaits(func(time.Duration) { waits++ })

	if _, err := client.CreateCustomer(context.Background(), Customer{Name: "Maria", TaxID: "52998224725"}); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if _, err := client.CreateCharge(context.Background(), ChargeRequest{Value: 25.00}); err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	// One observation per call that passed through the limiter.
	if waits != 2 {
		t.Errorf("observed %d limiter waits, want 2", waits)
	}
}

func TestReliableClient_WrapAppliesConfig(t *testing.T) {
	cfg := DefaultReliabilityConfig()
	cfg.RateLimitInterval = 0 // limiter disabled

	client := cfg.Wrap(NewInMemoryClient(), nil)
	if client == nil {
		t.Fatal("Wrap returned nil")
	}
	if client.limiter != nil {
		t.Error("limiter built despite zero interval")
	}
	if client.breaker == nil {
		t.Error("breaker missing")
	}
	if client.retry.MaxAttempts != cfg.RetryMaxAttempts {
		t.Errorf("retry attempts = %d", client.retry.MaxAttempts)
	}
}
