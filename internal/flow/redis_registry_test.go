package flow

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubRedisClient struct {
	pipe *stubPipeline
}

func (s *stubRedisClient) Pipeline() RedisPipeliner { return s.pipe }

type stubPipeline struct {
	hsets []struct {
		key    string
		values []any
	}
	expirations map[string]time.Duration
	xadds       []redis.XAddArgs
	dels        []string
	execCalled  bool
	execErr     error
}

func (s *stubPipeline) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	s.hsets = append(s.hsets, struct {
		key    string
		values []any
	}{key: key, values: values})
	return redis.NewIntCmd(context.Background())
}

func (s *stubPipeline) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if s.expirations == nil {
		s.expirations = map[string]time.Duration{}
	}
	s.expirations[key] = ttl
	return redis.NewBoolCmd(context.Background())
}

func (s *stubPipeline) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.xadds = append(s.xadds, *a)
	return redis.NewStringCmd(context.Background())
}

func (s *stubPipeline) Del(_ context.Context, keys ...string) *redis.IntCmd {
	s.dels = append(s.dels, keys...)
	return redis.NewIntCmd(context.Background())
}

func (s *stubPipeline) Exec(_ context.Context) ([]redis.Cmder, error) {
	s.execCalled = true
	return nil, s.execErr
}

func toMap(args []any) map[string]any {
	if len(args) == 0 {
		return map[string]any{}
	}
	if m, ok := args[0].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func TestRedisRegistry_PutWritesHashAndStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	registry := NewRedisRegistry(&stubRedisClient{pipe: pipe}, "flow_events", 0, 0)

	registry.Put(Context{
		ID:       "flow-1",
		Email:    "maria@example.com",
		ChargeID: "pay-1",
		Outcome:  OutcomeRunning,
		Steps: []ProcessingStep{
			{Name: StepCreateCharge, Status: StepSuccess},
		},
		UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	if len(pipe.hsets) != 1 {
		t.Fatalf("expected 1 HSET, got %d", len(pipe.hsets))
	}
	if pipe.hsets[0].key != "flow:flow-1" {
		t.Fatalf("unexpected hash key %q", pipe.hsets[0].key)
	}

	hash := toMap(pipe.hsets[0].values)
	if hash["flow_id"] != "flow-1" || hash["charge_id"] != "pay-1" {
		t.Fatalf("unexpected hash values: %+v", hash)
	}
	if hash["step"] != StepCreateCharge || hash["step_status"] != "success" {
		t.Fatalf("unexpected step fields: %+v", hash)
	}

	if len(pipe.xadds) != 1 {
		t.Fatalf("expected 1 XADD, got %d", len(pipe.xadds))
	}
	if pipe.xadds[0].Stream != "flow_events" {
		t.Fatalf("unexpected stream %q", pipe.xadds[0].Stream)
	}
	if !pipe.execCalled {
		t.Fatalf("expected Exec to be called")
	}
}

func TestRedisRegistry_TTLAndDefaultStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	registry := NewRedisRegistry(&stubRedisClient{pipe: pipe}, "", time.Minute, 100)

	registry.Put(Context{ID: "flow-2", Outcome: OutcomeCompleted})

	if pipe.expirations["flow:flow-2"] != time.Minute {
		t.Fatalf("expected TTL on hash, got %+v", pipe.expirations)
	}
	if len(pipe.xadds) != 1 || pipe.xadds[0].Stream != "flow_events" {
		t.Fatalf("expected default stream, got %+v", pipe.xadds)
	}
	if pipe.xadds[0].MaxLen != 100 || !pipe.xadds[0].Approx {
		t.Fatalf("expected capped approximate stream, got %+v", pipe.xadds[0])
	}
}

func TestRedisRegistry_DeleteRemovesHash(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	registry := NewRedisRegistry(&stubRedisClient{pipe: pipe}, "flow_events", 0, 0)

	registry.Delete("flow-1")

	if len(pipe.dels) != 1 || pipe.dels[0] != "flow:flow-1" {
		t.Fatalf("expected DEL of flow key, got %v", pipe.dels)
	}
}

func TestMemoryRegistry_CopiesSteps(t *testing.T) {
	t.Parallel()

	registry := NewMemoryRegistry()
	fc := Context{
		ID:    "flow-1",
		Steps: []ProcessingStep{{Name: StepValidation, Status: StepSuccess}},
	}
	registry.Put(fc)

	got, ok := registry.Get("flow-1")
	if !ok {
		t.Fatalf("expected stored flow")
	}
	got.Steps[0].Status = StepFailed

	again, _ := registry.Get("flow-1")
	if again.Steps[0].Status != StepSuccess {
		t.Fatalf("registry snapshot must be isolated from callers")
	}
}

func TestMultiRegistry_MirrorsWrites(t *testing.T) {
	t.Parallel()

	primary := NewMemoryRegistry()
	secondary := NewMemoryRegistry()
	registry := NewMultiRegistry(primary, secondary)

	registry.Put(Context{ID: "flow-1"})
	if _, ok := secondary.Get("flow-1"); !ok {
		t.Fatalf("expected write mirrored to secondary")
	}

	registry.Delete("flow-1")
	if _, ok := primary.Get("flow-1"); ok {
		t.Fatalf("expected delete in primary")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}
