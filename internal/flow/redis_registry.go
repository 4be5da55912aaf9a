package flow

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPipelineClient is the minimal client surface used by RedisRegistry.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// RedisRegistry mirrors flow state into Redis: a hash with the latest
// snapshot per flow, plus a capped stream of transitions for consumers that
// want the history. Writes are best-effort; the durable Store is the source
// of truth.
type RedisRegistry struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// NewRedisRegistry constructs a Redis-backed flow registry.
func NewRedisRegistry(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisRegistry {
	if stream == "" {
		stream = "flow_events"
	}
	return &RedisRegistry{
		client:    client,
		stream:    stream,
		keyPrefix: "flow:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Put writes the latest snapshot and appends a transition to the stream.
func (r *RedisRegistry) Put(fc Context) {
	ctx := context.Background()
	key := r.keyPrefix + fc.ID

	step := ""
	stepStatus := ""
	if n := len(fc.Steps); n > 0 {
		step = fc.Steps[n-1].Name
		stepStatus = string(fc.Steps[n-1].Status)
	}
	updated := fc.UpdatedAt.UTC().Format(time.RFC3339Nano)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"flow_id":     fc.ID,
		"email":       fc.Email,
		"charge_id":   fc.ChargeID,
		"outcome":     string(fc.Outcome),
		"step":        step,
		"step_status": stepStatus,
		"updated_at":  updated,
	})
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"flow_id":     fc.ID,
			"charge_id":   fc.ChargeID,
			"outcome":     string(fc.Outcome),
			"step":        step,
			"step_status": stepStatus,
			"updated_at":  updated,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, _ = pipe.Exec(ctx)
}

// Get is unsupported on the Redis mirror; the in-memory primary serves
// reads. It always misses.
func (r *RedisRegistry) Get(flowID string) (Context, bool) {
	return Context{}, false
}

// Delete removes the snapshot hash.
func (r *RedisRegistry) Delete(flowID string) {
	ctx := context.Background()
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.keyPrefix+flowID)
	_, _ = pipe.Exec(ctx)
}
