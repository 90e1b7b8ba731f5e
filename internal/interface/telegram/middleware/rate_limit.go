package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Protects the bot from runaway clients using a token bucket algorithm.
// The audience is a small moderation team, so the limits mostly guard
// against accidental loops (double taps on verdict buttons, re-sent
// documents) and against a leaked bot token being used to hammer uploads.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// violationResetAfter is how long since the last violation before
	// the violation counter starts over.
	violationResetAfter = 5 * time.Minute

	// bucketIdleTimeout is how long an untouched bucket survives a sweep.
	bucketIdleTimeout = 10 * time.Minute
)

// RateLimitBackend is a shared counter store consulted after the local
// token bucket allows a request. It makes the limit hold across bot
// instances; implemented by redis.RateLimitGuard. A backend error fails
// open: a cache outage must not lock the moderation team out.
type RateLimitBackend interface {
	// Take consumes one slot of the key's window and reports whether the
	// request fits the limit, with the wait time when it does not.
	Take(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests per user per minute.
	RequestsPerMinute int

	// BurstSize is the maximum burst size (tokens in bucket at start).
	// Review sessions are bursty: a reviewer taps through a dozen cards
	// in quick succession, so the burst is generous.
	BurstSize int

	// CleanupInterval is how often idle buckets and expired bans are swept.
	CleanupInterval time.Duration

	// BanDuration is how long to temporarily ban users who exceed limits.
	BanDuration time.Duration

	// BanThreshold is the number of limit violations before temporary ban.
	BanThreshold int

	// WhitelistedUsers are users exempt from rate limiting.
	WhitelistedUsers map[int64]bool

	// Backend is the optional shared counter store. Nil keeps the
	// limiter purely in-process.
	Backend RateLimitBackend

	// BackendKeyPrefix namespaces this limiter's keys in the shared
	// store, so the upload limiter and the fallback limiter do not
	// count against each other.
	BackendKeyPrefix string

	// OnRateLimited is called when a user hits the rate limit.
	// Returns the message to send to the user.
	OnRateLimited func(telegramID int64, retryAfter time.Duration) string
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         12,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      5,
		WhitelistedUsers:  make(map[int64]bool),
		OnRateLimited: func(telegramID int64, retryAfter time.Duration) string {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			if seconds < 60 {
				return fmt.Sprintf(
					"⏳ Слишком много запросов!\n\n"+
						"Подождите %d сек. и повторите.\n"+
						"<i>Принятые решения не потерялись.</i>",
					seconds,
				)
			}
			minutes := seconds / 60
			return fmt.Sprintf(
				"⏳ Слишком много запросов!\n\n"+
					"Подождите %d мин. и повторите.\n"+
					"<i>Принятые решения не потерялись.</i>",
				minutes,
			)
		},
	}
}

// UploadRateLimitConfig returns a stricter configuration for the upload flow.
// Each upload triggers a document download, extraction, and scoring, so the
// bucket refills far slower than for plain commands.
func UploadRateLimitConfig() RateLimitConfig {
	config := DefaultRateLimitConfig()
	config.RequestsPerMinute = 4
	config.BurstSize = 2
	config.OnRateLimited = func(telegramID int64, retryAfter time.Duration) string {
		return fmt.Sprintf(
			"⏳ Слишком частые загрузки!\n\n"+
				"Обработка документа занимает время. Подождите %d сек.\n"+
				"<i>Уже отправленные партии обрабатываются.</i>",
			int(retryAfter.Seconds())+1,
		)
	}
	return config
}

// RateLimiter implements per-user rate limiting using the token bucket
// algorithm. Idle buckets and expired bans are swept opportunistically
// during Check calls; there is no background goroutine.
type RateLimiter struct {
	config  RateLimitConfig
	buckets sync.Map // map[int64]*tokenBucket
	bans    sync.Map // map[int64]time.Time, value is ban expiry

	sweepMu   sync.Mutex
	nextSweep time.Time
}

// tokenBucket holds a user's rate limit state.
type tokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	refillRate   float64 // tokens per second
	maxTokens    float64
	violations   int
	lastViolated time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:    config,
		nextSweep: time.Now().Add(config.CleanupInterval),
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// RetryAfter is how long the user should wait before retrying.
	RetryAfter time.Duration

	// IsBanned indicates if the user is temporarily banned.
	IsBanned bool

	// BanExpiresAt is when the ban expires (if banned).
	BanExpiresAt time.Time

	// ResponseMessage is the message to send if rate limited.
	ResponseMessage string

	// RemainingTokens is the number of tokens remaining in the bucket.
	RemainingTokens int
}

// Check reports whether a request from the given user is allowed and
// consumes a token when it is.
func (rl *RateLimiter) Check(telegramID int64) *RateLimitResult {
	rl.maybeSweep()

	if rl.config.WhitelistedUsers[telegramID] {
		return &RateLimitResult{
			Allowed:         true,
			RemainingTokens: rl.config.BurstSize,
		}
	}

	if expiry, banned := rl.banExpiry(telegramID); banned {
		return &RateLimitResult{
			Allowed:         false,
			IsBanned:        true,
			BanExpiresAt:    expiry,
			RetryAfter:      time.Until(expiry),
			ResponseMessage: rl.config.OnRateLimited(telegramID, time.Until(expiry)),
		}
	}

	bucket := rl.bucket(telegramID)

	allowed, retryAfter, remaining := bucket.consume()
	if allowed {
		// The local bucket caps one instance; the shared backend caps
		// the fleet. Only requests the bucket let through spend a slot.
		if denied, wait := rl.backendDeny(telegramID); denied {
			if bucket.recordViolation() >= rl.config.BanThreshold {
				rl.bans.Store(telegramID, time.Now().Add(rl.config.BanDuration))
			}
			return &RateLimitResult{
				Allowed:         false,
				RetryAfter:      wait,
				ResponseMessage: rl.config.OnRateLimited(telegramID, wait),
			}
		}

		return &RateLimitResult{
			Allowed:         true,
			RemainingTokens: remaining,
		}
	}

	if bucket.recordViolation() >= rl.config.BanThreshold {
		rl.bans.Store(telegramID, time.Now().Add(rl.config.BanDuration))
	}

	return &RateLimitResult{
		Allowed:         false,
		RetryAfter:      retryAfter,
		ResponseMessage: rl.config.OnRateLimited(telegramID, retryAfter),
	}
}

// backendDeny consults the shared counter store. Errors fail open.
func (rl *RateLimiter) backendDeny(telegramID int64) (bool, time.Duration) {
	if rl.config.Backend == nil {
		return false, 0
	}

	key := fmt.Sprintf("%s%d", rl.config.BackendKeyPrefix, telegramID)

	ok, wait, err := rl.config.Backend.Take(context.Background(), key, rl.config.RequestsPerMinute, time.Minute)
	if err != nil || ok {
		return false, 0
	}

	if wait <= 0 {
		wait = time.Second
	}
	return true, wait
}

// bucket returns the token bucket for a user, creating one if needed.
func (rl *RateLimiter) bucket(telegramID int64) *tokenBucket {
	if val, ok := rl.buckets.Load(telegramID); ok {
		return val.(*tokenBucket)
	}

	fresh := &tokenBucket{
		tokens:     float64(rl.config.BurstSize),
		lastRefill: time.Now(),
		refillRate: float64(rl.config.RequestsPerMinute) / 60.0,
		maxTokens:  float64(rl.config.BurstSize),
	}

	actual, _ := rl.buckets.LoadOrStore(telegramID, fresh)
	return actual.(*tokenBucket)
}

// consume tries to take one token from the bucket.
// Returns (allowed, retryAfter, remainingTokens).
func (b *tokenBucket) consume() (bool, time.Duration, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0, int(b.tokens)
	}

	deficit := 1.0 - b.tokens
	retryAfter := time.Duration(deficit / b.refillRate * float64(time.Second))

	return false, retryAfter, 0
}

// recordViolation bumps the violation counter and returns the new count.
func (b *tokenBucket) recordViolation() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastViolated) > violationResetAfter {
		b.violations = 0
	}

	b.violations++
	b.lastViolated = time.Now()
	return b.violations
}

// banExpiry reports whether the user is banned and until when.
// Expired bans are removed on the way.
func (rl *RateLimiter) banExpiry(telegramID int64) (time.Time, bool) {
	val, ok := rl.bans.Load(telegramID)
	if !ok {
		return time.Time{}, false
	}

	expiry := val.(time.Time)
	if time.Now().After(expiry) {
		rl.bans.Delete(telegramID)
		return time.Time{}, false
	}

	return expiry, true
}

// maybeSweep drops idle buckets and expired bans once per CleanupInterval.
// The sweep itself runs on the calling goroutine; the maps hold at most
// a few dozen entries for a moderation team.
func (rl *RateLimiter) maybeSweep() {
	now := time.Now()

	rl.sweepMu.Lock()
	if now.Before(rl.nextSweep) {
		rl.sweepMu.Unlock()
		return
	}
	rl.nextSweep = now.Add(rl.config.CleanupInterval)
	rl.sweepMu.Unlock()

	rl.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*tokenBucket)
		bucket.mu.Lock()
		idle := now.Sub(bucket.lastRefill) > bucketIdleTimeout
		bucket.mu.Unlock()

		if idle {
			rl.buckets.Delete(key)
		}
		return true
	})

	rl.bans.Range(func(key, value interface{}) bool {
		if now.After(value.(time.Time)) {
			rl.bans.Delete(key)
		}
		return true
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND-SPECIFIC RATE LIMITS
// Uploads cost a document download plus extraction plus scoring, while a
// verdict tap is a single UPDATE. One shared bucket would either let uploads
// flood the pipeline or throttle reviewers mid-session.
// ══════════════════════════════════════════════════════════════════════════════

// CommandRateLimits routes rate limit checks to per-command limiters.
type CommandRateLimits struct {
	limiters map[string]*RateLimiter
	fallback *RateLimiter
}

// NewCommandRateLimits creates a command-aware rate limiter. Commands
// without their own configuration share the fallback limiter.
func NewCommandRateLimits(defaultConfig RateLimitConfig) *CommandRateLimits {
	return &CommandRateLimits{
		limiters: make(map[string]*RateLimiter),
		fallback: NewRateLimiter(defaultConfig),
	}
}

// AddCommand attaches a dedicated limiter to a command. Not safe for
// concurrent use with Check; register everything during bot setup.
func (c *CommandRateLimits) AddCommand(command string, config RateLimitConfig) {
	c.limiters[command] = NewRateLimiter(config)
}

// Check checks the rate limit for a specific command.
func (c *CommandRateLimits) Check(telegramID int64, command string) *RateLimitResult {
	if limiter, ok := c.limiters[command]; ok {
		return limiter.Check(telegramID)
	}
	return c.fallback.Check(telegramID)
}
