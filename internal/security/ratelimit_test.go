package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *RedisRateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &RedisRateLimiter{Redis: client, Prefix: "rl"}
}

func TestRateLimiterRejectsAfterMax(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, count, err := limiter.Check(ctx, "user-1", OpTransfer, 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed, "attempt %d should be allowed", i+1)
		assert.Equal(t, i+1, count)
	}

	allowed, count, err := limiter.Check(ctx, "user-1", OpTransfer, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "fourth attempt must be rejected")
	assert.Equal(t, 3, count)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	allowed, _, err := limiter.Check(ctx, "user-1", OpTransfer, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Check(ctx, "user-1", OpTransfer, 1, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	// Same user, different operation.
	allowed, _, err = limiter.Check(ctx, "user-1", OpWithdrawal, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Different user, same operation.
	allowed, _, err = limiter.Check(ctx, "user-2", OpTransfer, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterWindowElapses(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	allowed, _, err := limiter.Check(ctx, "user-1", OpTransfer, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Check(ctx, "user-1", OpTransfer, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(80 * time.Millisecond)

	allowed, _, err = limiter.Check(ctx, "user-1", OpTransfer, 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed, "attempts succeed again once the window elapses")
}

// TestRateLimiterConcurrentChecks hammers one key concurrently and
// verifies the admitted count never exceeds the maximum.
func TestRateLimiterConcurrentChecks(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	const attempts = 20
	const max = 5

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := limiter.Check(ctx, "user-1", OpTransfer, max, time.Minute)
			if err != nil {
				return
			}
			if allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, max, admitted)
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := &RedisRateLimiter{}

	allowed, _, err := limiter.Check(context.Background(), "user-1", OpTransfer, 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "limiter without backing store admits everything")
}
