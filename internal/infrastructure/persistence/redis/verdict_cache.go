package redis

import (
	"context"
	"errors"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
)

// DefaultVerdictTTL keeps a scorer verdict around long enough to cover
// the common re-upload window: the same study guide uploaded twice in a
// term should not pay for two scoring calls per question.
const DefaultVerdictTTL = 14 * 24 * time.Hour

// VerdictCache stores scorer verdicts keyed by question fingerprint.
// Identical questions appear across uploads all the time (re-scanned
// pages, shared question banks), and a scoring call is the single most
// expensive step of the ingest.
type VerdictCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewVerdictCache creates a new VerdictCache. A non-positive TTL means
// the default.
func NewVerdictCache(cache *Cache, ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = DefaultVerdictTTL
	}

	return &VerdictCache{
		cache: cache,
		ttl:   ttl,
	}
}

// GetVerdict returns a cached verdict for the fingerprint. A miss
// returns ok=false without error.
func (v *VerdictCache) GetVerdict(ctx context.Context, fingerprint string) (candidate.ScoreResult, bool, error) {
	var result candidate.ScoreResult

	err := v.cache.Get(ctx, VerdictKey(fingerprint), &result)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return candidate.ScoreResult{}, false, nil
		}
		return candidate.ScoreResult{}, false, err
	}

	return result, true, nil
}

// SetVerdict stores a verdict for the fingerprint.
func (v *VerdictCache) SetVerdict(ctx context.Context, fingerprint string, result candidate.ScoreResult) error {
	return v.cache.Set(ctx, VerdictKey(fingerprint), result, v.ttl)
}
