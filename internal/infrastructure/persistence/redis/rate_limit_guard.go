package redis

import (
	"context"
	"time"
)

// RateLimitGuard is a shared fixed-window counter behind the bot's
// upload rate limiter. The in-process token bucket caps one instance;
// the guard caps the fleet, so a horizontally scaled webhook deployment
// cannot multiply an uploader's budget by the instance count.
type RateLimitGuard struct {
	cache *Cache
}

// NewRateLimitGuard creates a new RateLimitGuard.
func NewRateLimitGuard(cache *Cache) *RateLimitGuard {
	return &RateLimitGuard{cache: cache}
}

// Take consumes one slot of the caller's window and reports whether the
// request fits the limit. When it does not, retryAfter is the remaining
// window. INCR is atomic, so concurrent instances cannot overshoot.
func (g *RateLimitGuard) Take(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	k := RateLimitKey(key)

	count, err := g.cache.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}

	// The first hit opens the window; the expiry makes the counter
	// self-cleaning even if the limiter never asks again.
	if count == 1 {
		if err := g.cache.client.Expire(ctx, k, window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := g.cache.client.TTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}

	return false, ttl, nil
}
