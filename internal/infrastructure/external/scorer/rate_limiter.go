package scorer

import (
	"context"
	"sync"
	"time"
)

// RateLimiter keeps the client under the scoring backend's request quota
// with a token bucket. Exhausting the quota server-side turns every
// assessment into a heuristic one for the whole Retry-After window, so
// waiting a little here is cheaper than tripping the backend's limit.
//
// The limiter adapts: a 429 from the backend drains the bucket, pauses
// all requests for the advertised Retry-After and slows the refill rate;
// successful grants restore the configured rate step by step.
type RateLimiter struct {
	mu sync.Mutex

	capacity     float64
	tokens       float64
	refillPerSec float64
	baseRefill   float64
	lastRefill   time.Time

	minInterval time.Duration
	lastGrant   time.Time

	waitBudget time.Duration
	pauseFor   time.Duration

	quietUntil   time.Time
	denialStreak int
}

// RateLimiterConfig tunes the quota limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64

	// BurstSize is how many requests may fire back to back.
	BurstSize int

	// MinInterval spaces out requests even while tokens are available.
	MinInterval time.Duration

	// WaitTimeout bounds how long Allow blocks for a token.
	WaitTimeout time.Duration

	// RetryAfter is the pause applied after a 429 without a Retry-After
	// header.
	RetryAfter time.Duration
}

// DefaultRateLimiterConfig is sized for a 30 requests/minute scoring
// quota. A batch of fifty candidates clears in under two minutes, which
// is fine for an asynchronous ingest.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 0.5,
		BurstSize:         5,
		MinInterval:       500 * time.Millisecond,
		WaitTimeout:       15 * time.Second,
		RetryAfter:        30 * time.Second,
	}
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		capacity:     float64(config.BurstSize),
		tokens:       float64(config.BurstSize),
		refillPerSec: config.RequestsPerSecond,
		baseRefill:   config.RequestsPerSecond,
		lastRefill:   now,
		minInterval:  config.MinInterval,
		lastGrant:    now.Add(-config.MinInterval),
		waitBudget:   config.WaitTimeout,
		pauseFor:     config.RetryAfter,
	}
}

// RateLimitError reports that the quota blocked a request.
type RateLimitError struct {
	// RetryAfter suggests when the next attempt could succeed.
	RetryAfter time.Duration

	// Message describes which limit was hit.
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Message
}

// Allow blocks until a request may proceed or the wait budget runs out.
// It returns ctx.Err on cancellation and a RateLimitError when waiting
// any longer would exceed WaitTimeout.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := time.Now().Add(rl.waitBudget)

	for {
		wait, ok := rl.reserve()
		if ok {
			return nil
		}

		if time.Now().Add(wait).After(deadline) {
			return &RateLimitError{
				RetryAfter: wait,
				Message:    "scoring quota exhausted, retry after " + wait.String(),
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve attempts to take one token. On denial it returns how long the
// caller should sleep before trying again.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// The backend asked for silence; nothing proceeds until it ends.
	if now.Before(rl.quietUntil) {
		return rl.quietUntil.Sub(now), false
	}

	rl.refillLocked(now)

	if since := now.Sub(rl.lastGrant); since < rl.minInterval {
		return rl.minInterval - since, false
	}

	if rl.tokens < 1 {
		wait := time.Duration((1 - rl.tokens) / rl.refillPerSec * float64(time.Second))
		// Back off exponentially on repeated denials so a starved caller
		// does not spin on the lock.
		if rl.denialStreak > 0 {
			wait = time.Duration(int64(wait) << min(rl.denialStreak, 5))
		}
		rl.denialStreak++
		return wait, false
	}

	rl.tokens--
	rl.lastGrant = now
	rl.denialStreak = 0

	// Work back up to the configured rate after RecordRateLimitHit
	// slowed us down.
	if rl.refillPerSec < rl.baseRefill {
		rl.refillPerSec = min(rl.baseRefill, rl.refillPerSec*1.25)
	}

	return 0, true
}

// refillLocked credits tokens for the time elapsed since the last refill.
// Must be called with the lock held.
func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens = min(rl.capacity, rl.tokens+elapsed*rl.refillPerSec)
	rl.lastRefill = now
}

// RecordRateLimitHit reacts to a 429 from the backend: the bucket is
// drained, requests pause for retryAfter (or the configured default) and
// the refill rate drops, floored at a fifth of the configured rate since
// the pause itself already absorbs the pressure.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if retryAfter <= 0 {
		retryAfter = rl.pauseFor
	}

	now := time.Now()
	rl.tokens = 0
	// Restart the refill clock, otherwise the elapsed time since the
	// last refill would immediately credit the drained bucket back.
	rl.lastRefill = now
	rl.quietUntil = now.Add(retryAfter)
	rl.refillPerSec = max(rl.baseRefill*0.2, rl.refillPerSec*0.8)
	rl.denialStreak++
}
