package gateway

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReliabilityConfig bundles the retry/breaker/limiter settings for
// outbound gateway calls.
type ReliabilityConfig struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
}

// DefaultReliabilityConfig is used when the env carries no overrides.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RetryMaxAttempts:    3,
		RetryBaseDelay:      200 * time.Millisecond,
		RetryMaxDelay:       2 * time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 10 * time.Second,
		RateLimitInterval:   50 * time.Millisecond,
		RateLimitBurst:      10,
	}
}

// LoadReliabilityConfig reads gateway reliability settings from env,
// falling back to defaults per field.
func LoadReliabilityConfig() (ReliabilityConfig, error) {
	cfg := DefaultReliabilityConfig()
	var err error

	if cfg.RetryMaxAttempts, err = envInt("GATEWAY_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = envDuration("GATEWAY_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = envDuration("GATEWAY_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = envInt("GATEWAY_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = envDuration("GATEWAY_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout); err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval, err = envDuration("GATEWAY_RATE_LIMIT_INTERVAL", cfg.RateLimitInterval); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = envInt("GATEWAY_RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Wrap builds a ReliableClient around base using this config. A metrics
// callback, when non-nil, observes limiter waits.
func (cfg ReliabilityConfig) Wrap(base Client, observeWait func(time.Duration)) *ReliableClient {
	var limiter *RateLimiter
	if cfg.RateLimitInterval > 0 && cfg.RateLimitBurst > 0 {
		limiter = NewRateLimiter(cfg.RateLimitInterval, cfg.RateLimitBurst)
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	retry := RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	client := NewReliableClient(base, limiter, breaker, retry)
	client.ObserveWaits(observeWait)
	return client
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}
