package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared Redis instance so replay, idempotency,
// and claim state survive process restarts and horizontal scaling.
type Redis struct {
	client  *redis.Client
	consume *redis.Script
}

// consumeScript performs the read-compare-write of ConsumeIfEquals server-side
// so two racing consumers can never both observe a match. The remaining TTL is
// read and reapplied rather than extended.
const consumeScript = `
local current = redis.call('GET', KEYS[1])
if current == false then
  return 'missing'
end
if current ~= ARGV[1] then
  return 'mismatch'
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 'ok'
`

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client:  client,
		consume: redis.NewScript(consumeScript),
	}
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr, password string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client), nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// SetIfAbsent maps to SET NX PX.
func (r *Redis) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Set maps to SET PX.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get maps to GET, translating redis.Nil into ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// ConsumeIfEquals runs the atomic consume script.
func (r *Redis) ConsumeIfEquals(ctx context.Context, key, expect, replacement string) (ConsumeResult, error) {
	raw, err := r.consume.Run(ctx, r.client, []string{key}, expect, replacement).Result()
	if err != nil {
		return "", fmt.Errorf("consume %s: %w", key, err)
	}
	outcome, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("consume %s: unexpected script result %T", key, raw)
	}
	switch ConsumeResult(outcome) {
	case ConsumeOK, ConsumeMismatch, ConsumeMissing:
		return ConsumeResult(outcome), nil
	default:
		return "", fmt.Errorf("consume %s: unexpected script outcome %q", key, outcome)
	}
}
