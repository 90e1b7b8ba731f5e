package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRateLimitBackend plays the shared counter store with a fixed answer.
type fakeRateLimitBackend struct {
	allow bool
	wait  time.Duration
	err   error

	calls int
	keys  []string
}

func (b *fakeRateLimitBackend) Take(_ context.Context, key string, _ int, _ time.Duration) (bool, time.Duration, error) {
	b.calls++
	b.keys = append(b.keys, key)
	return b.allow, b.wait, b.err
}

func TestRateLimiter_AllowsBurstThenLimits(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerMinute = 1 // slow refill keeps the test deterministic
	cfg.BurstSize = 3

	rl := NewRateLimiter(cfg)

	for i := 0; i < 3; i++ {
		result := rl.Check(77001)
		require.True(t, result.Allowed, "request %d within burst should pass", i+1)
	}

	denied := rl.Check(77001)
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))
	assert.Contains(t, denied.ResponseMessage, "Слишком много запросов")
}

func TestRateLimiter_RefillRestoresTokens(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerMinute = 600 // 10 tokens per second
	cfg.BurstSize = 1

	rl := NewRateLimiter(cfg)

	require.True(t, rl.Check(77002).Allowed)
	require.False(t, rl.Check(77002).Allowed)

	time.Sleep(250 * time.Millisecond)

	assert.True(t, rl.Check(77002).Allowed, "bucket should refill after waiting")
}

func TestRateLimiter_WhitelistBypassesLimit(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerMinute = 1
	cfg.BurstSize = 1
	cfg.WhitelistedUsers[77003] = true

	rl := NewRateLimiter(cfg)

	for i := 0; i < 10; i++ {
		result := rl.Check(77003)
		require.True(t, result.Allowed, "whitelisted user must never be limited")
	}
}

func TestRateLimiter_BansAfterRepeatedViolations(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerMinute = 1
	cfg.BurstSize = 1
	cfg.BanThreshold = 2
	cfg.BanDuration = time.Hour

	rl := NewRateLimiter(cfg)

	require.True(t, rl.Check(77004).Allowed)

	// Two violations cross the threshold.
	require.False(t, rl.Check(77004).Allowed)
	require.False(t, rl.Check(77004).Allowed)

	banned := rl.Check(77004)
	assert.False(t, banned.Allowed)
	assert.True(t, banned.IsBanned)
	assert.True(t, banned.BanExpiresAt.After(time.Now()))
	assert.NotEmpty(t, banned.ResponseMessage)
}

func TestRateLimiter_BanExpires(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerMinute = 600
	cfg.BurstSize = 1
	cfg.BanThreshold = 1
	cfg.BanDuration = 50 * time.Millisecond

	rl := NewRateLimiter(cfg)

	require.True(t, rl.Check(77005).Allowed)
	require.False(t, rl.Check(77005).Allowed) // violation -> immediate ban
	require.True(t, rl.Check(77005).IsBanned)

	time.Sleep(250 * time.Millisecond)

	after := rl.Check(77005)
	assert.False(t, after.IsBanned)
	assert.True(t, after.Allowed, "refilled bucket should admit the user once the ban lapses")
}

func TestUploadRateLimitConfig_StricterMessage(t *testing.T) {
	cfg := UploadRateLimitConfig()

	assert.Less(t, cfg.RequestsPerMinute, DefaultRateLimitConfig().RequestsPerMinute)
	assert.Less(t, cfg.BurstSize, DefaultRateLimitConfig().BurstSize)

	msg := cfg.OnRateLimited(77006, 30*time.Second)
	assert.Contains(t, msg, "Слишком частые загрузки")
	assert.Contains(t, msg, "31 сек")
}

func TestCommandRateLimits_SeparateBuckets(t *testing.T) {
	defaultCfg := DefaultRateLimitConfig()
	defaultCfg.RequestsPerMinute = 1
	defaultCfg.BurstSize = 1

	uploadCfg := UploadRateLimitConfig()
	uploadCfg.RequestsPerMinute = 1
	uploadCfg.BurstSize = 1

	limits := NewCommandRateLimits(defaultCfg)
	limits.AddCommand("upload", uploadCfg)

	require.True(t, limits.Check(77007, "upload").Allowed)

	denied := limits.Check(77007, "upload")
	require.False(t, denied.Allowed)
	assert.Contains(t, denied.ResponseMessage, "Слишком частые загрузки")

	// Exhausting the upload bucket must not lock the reviewer out of
	// the rest of the bot.
	assert.True(t, limits.Check(77007, "queue").Allowed)
}

func TestRateLimiter_DefaultMessageNeverSaysZeroSeconds(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	msg := cfg.OnRateLimited(77008, 300*time.Millisecond)
	assert.Contains(t, msg, "1 сек")
}

func TestRateLimiter_BackendDeniesDespiteLocalTokens(t *testing.T) {
	backend := &fakeRateLimitBackend{allow: false, wait: 10 * time.Second}

	cfg := UploadRateLimitConfig()
	cfg.Backend = backend
	cfg.BackendKeyPrefix = "upload:"

	rl := NewRateLimiter(cfg)

	// The local bucket is full, but the fleet-wide budget is spent.
	denied := rl.Check(77009)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 10*time.Second, denied.RetryAfter)
	assert.NotEmpty(t, denied.ResponseMessage)

	require.Equal(t, 1, backend.calls)
	assert.Equal(t, "upload:77009", backend.keys[0])
}

func TestRateLimiter_BackendErrorFailsOpen(t *testing.T) {
	backend := &fakeRateLimitBackend{err: errors.New("connection refused")}

	cfg := UploadRateLimitConfig()
	cfg.Backend = backend

	rl := NewRateLimiter(cfg)

	// A cache outage must not lock the uploader out.
	result := rl.Check(77010)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, backend.calls)
}

func TestRateLimiter_BackendConsultedOnlyAfterLocalAllow(t *testing.T) {
	backend := &fakeRateLimitBackend{allow: true}

	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerMinute = 1
	cfg.BurstSize = 1
	cfg.Backend = backend

	rl := NewRateLimiter(cfg)

	require.True(t, rl.Check(77011).Allowed)
	require.False(t, rl.Check(77011).Allowed)

	// The locally rejected request never reaches the shared store, so it
	// does not burn a slot of the fleet-wide window.
	assert.Equal(t, 1, backend.calls)
}

func TestRateLimiter_BackendDenialCountsTowardBan(t *testing.T) {
	backend := &fakeRateLimitBackend{allow: false, wait: time.Second}

	cfg := DefaultRateLimitConfig()
	cfg.Backend = backend
	cfg.BanThreshold = 1
	cfg.BanDuration = time.Hour

	rl := NewRateLimiter(cfg)

	require.False(t, rl.Check(77012).Allowed)

	banned := rl.Check(77012)
	assert.True(t, banned.IsBanned)
	// The banned request is rejected before the bucket, so the backend
	// is not consulted again.
	assert.Equal(t, 1, backend.calls)
}
