package scorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenPaced(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 20, // one token per 50ms
		BurstSize:         2,
		WaitTimeout:       time.Second,
	})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Allow(ctx))
	require.NoError(t, rl.Allow(ctx))
	assert.Less(t, time.Since(start), 40*time.Millisecond, "the burst must not wait")

	require.NoError(t, rl.Allow(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "the third request must wait for a refill")
}

func TestRateLimiter_WaitBudgetExceeded(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.1, // ten seconds per token
		BurstSize:         1,
		WaitTimeout:       50 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx))

	start := time.Now()
	err := rl.Allow(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "a hopeless wait must fail fast")

	var rateLimitErr *RateLimitError
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Greater(t, rateLimitErr.RetryAfter, time.Duration(0))
}

func TestRateLimiter_MinIntervalSpacesRequests(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         5,
		MinInterval:       40 * time.Millisecond,
		WaitTimeout:       time.Second,
	})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Allow(ctx))
	require.NoError(t, rl.Allow(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRateLimiter_QuietPeriodAfterBackendHit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 50,
		BurstSize:         5,
		WaitTimeout:       time.Second,
	})
	ctx := context.Background()

	rl.RecordRateLimitHit(60 * time.Millisecond)

	start := time.Now()
	require.NoError(t, rl.Allow(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "the advertised pause must be respected")
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRateLimiter_DefaultPauseWhenHeaderMissing(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 50,
		BurstSize:         5,
		WaitTimeout:       time.Second,
		RetryAfter:        70 * time.Millisecond,
	})
	ctx := context.Background()

	rl.RecordRateLimitHit(0)

	start := time.Now()
	require.NoError(t, rl.Allow(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRateLimiter_ContextCancelUnblocks(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.5, // two seconds per token
		BurstSize:         1,
		WaitTimeout:       10 * time.Second,
	})

	require.NoError(t, rl.Allow(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Allow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
