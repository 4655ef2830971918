package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitExceededError is returned when an actor runs out of attempts
// for an operation inside the rolling window.
type RateLimitExceededError struct {
	ActorID   string
	Operation string
	Max       int
	Window    time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s on %s: max %d attempts per %s",
		e.ActorID, e.Operation, e.Max, e.Window)
}

// RedisRateLimiter counts attempts per (actor, operation) key in a
// rolling window backed by a Redis sorted set. The whole
// evict-count-insert cycle runs inside one Lua script, so concurrent
// checks on the same key cannot under-count. Entries expire with the
// key TTL, keeping memory bounded.
type RedisRateLimiter struct {
	Redis  *redis.Client
	Prefix string
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
if count >= max then
  return {0, count}
end

redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)

return {1, count + 1}
`)

func (l *RedisRateLimiter) key(actorID, operation string) string {
	raw := actorID + ":" + operation
	if l.Prefix == "" {
		return raw
	}
	return l.Prefix + ":" + raw
}

// Check records one attempt and reports whether it is allowed. The
// attempt is counted atomically: it is either inside the window and
// admitted, or rejected without being recorded.
func (l *RedisRateLimiter) Check(ctx context.Context, actorID, operation string, maxAttempts int, window time.Duration) (bool, int, error) {
	if l.Redis == nil || maxAttempts <= 0 || window <= 0 {
		return true, 0, nil
	}

	now := time.Now().UnixNano()
	ttl := int64(window/time.Second) + 1

	res, err := slidingWindowScript.Run(ctx, l.Redis,
		[]string{l.key(actorID, operation)},
		now, window.Nanoseconds(), maxAttempts, uuid.NewString(), ttl,
	).Result()
	if err != nil {
		return false, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, redis.ErrClosed
	}

	allowed, ok := vals[0].(int64)
	if !ok {
		return false, 0, redis.ErrClosed
	}
	count, ok := vals[1].(int64)
	if !ok {
		return false, 0, redis.ErrClosed
	}

	return allowed == 1, int(count), nil
}
