package config

import (
	"testing"
	"time"
)

func TestLoadHTTP_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "")

	cfg, err := LoadHTTP()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.ShutdownTimeout)
	}
}

func TestLoadHTTP_FromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "10s")

	cfg, err := LoadHTTP()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected http cfg: %+v", cfg)
	}
}

func TestLoadGateway(t *testing.T) {
	t.Setenv("ASAAS_API_KEY", "key-1")
	t.Setenv("ASAAS_BASE_URL", "https://api.asaas.com/v3")
	t.Setenv("ASAAS_WEBHOOK_TOKEN", "hook-1")
	t.Setenv("RENUM_WALLET_ID", "wallet-1")

	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "key-1" || cfg.BaseURL != "https://api.asaas.com/v3" {
		t.Fatalf("unexpected gateway cfg: %+v", cfg)
	}
	if cfg.WebhookToken != "hook-1" || cfg.PartnerWallet != "wallet-1" {
		t.Fatalf("unexpected gateway cfg: %+v", cfg)
	}
}

func TestLoadGateway_DefaultsToSandbox(t *testing.T) {
	t.Setenv("ASAAS_API_KEY", "")
	t.Setenv("ASAAS_BASE_URL", "")
	t.Setenv("RENUM_WALLET_ID", "")

	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://sandbox.asaas.com/api/v3" {
		t.Fatalf("unexpected base url: %s", cfg.BaseURL)
	}
}

func TestLoadGateway_RequiresPartnerWallet(t *testing.T) {
	t.Setenv("ASAAS_API_KEY", "key-1")
	t.Setenv("RENUM_WALLET_ID", "")

	if _, err := LoadGateway(); err == nil {
		t.Fatalf("expected error when RENUM_WALLET_ID is missing")
	}
}

func TestLoadPoll(t *testing.T) {
	t.Setenv("POLL_TIMEOUT", "30s")
	t.Setenv("POLL_INTERVAL", "2s")

	cfg, err := LoadPoll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timeout != 30*time.Second || cfg.Interval != 2*time.Second {
		t.Fatalf("unexpected poll cfg: %+v", cfg)
	}
}

func TestLoadPoll_EmptyDefersToDefaults(t *testing.T) {
	t.Setenv("POLL_TIMEOUT", "")
	t.Setenv("POLL_INTERVAL", "")

	cfg, err := LoadPoll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timeout != 0 || cfg.Interval != 0 {
		t.Fatalf("expected zero poll cfg, got %+v", cfg)
	}
}

func TestLoadRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_STREAM", "flow_events")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "2s")
	t.Setenv("REDIS_FLOW_TTL", "10m")
	t.Setenv("REDIS_STREAM_MAXLEN", "1000")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.URL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected redis url: %s", cfg.URL)
	}
	if cfg.Stream != "flow_events" {
		t.Fatalf("unexpected stream: %s", cfg.Stream)
	}
	if cfg.HealthcheckTimeout != 2*time.Second {
		t.Fatalf("unexpected healthcheck timeout: %v", cfg.HealthcheckTimeout)
	}
	if cfg.FlowTTL != 10*time.Minute {
		t.Fatalf("unexpected flow ttl: %v", cfg.FlowTTL)
	}
	if cfg.StreamMaxLen != 1000 {
		t.Fatalf("unexpected stream maxlen: %d", cfg.StreamMaxLen)
	}
}

func TestLoadRedis_WithOptionalFields(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")
	t.Setenv("REDIS_FLOW_TTL", "1m")
	t.Setenv("REDIS_STREAM_MAXLEN", "10")
	t.Setenv("REDIS_DIAL_TIMEOUT", "3s")
	t.Setenv("REDIS_READ_TIMEOUT", "4s")
	t.Setenv("REDIS_WRITE_TIMEOUT", "5s")
	t.Setenv("REDIS_POOL_SIZE", "9")
	t.Setenv("REDIS_MIN_IDLE_CONNS", "2")
	t.Setenv("REDIS_MAX_RETRIES", "3")
	t.Setenv("REDIS_OTEL", "true")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DialTimeout == nil || *cfg.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %v", cfg.DialTimeout)
	}
	if cfg.PoolSize == nil || *cfg.PoolSize != 9 {
		t.Fatalf("unexpected pool size: %v", cfg.PoolSize)
	}
	if !cfg.EnableOTel {
		t.Fatalf("expected otel enabled")
	}
}

func TestLoadRedis_RequiresURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")

	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error when REDIS_URL is empty")
	}
}

func TestLoadRedis_RejectsNegativeDuration(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "-1s")

	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for negative duration")
	}
}
