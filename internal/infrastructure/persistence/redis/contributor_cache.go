package redis

import (
	"context"
	"errors"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ContributorCache holds precomputed contributor statistics. The stats job
// rebuilds the list periodically; /mystats and the digest read it instead of
// aggregating candidates on every request.
type ContributorCache struct {
	cache *Cache
}

// NewContributorCache creates a new ContributorCache.
func NewContributorCache(cache *Cache) *ContributorCache {
	return &ContributorCache{
		cache: cache,
	}
}

// GetStats gets the full contributor list from cache, ordered by approved
// count. A miss returns nil without error.
func (c *ContributorCache) GetStats(ctx context.Context) ([]candidate.ContributorAggregate, error) {
	var stats []candidate.ContributorAggregate

	err := c.cache.Get(ctx, ContributorStatsKey(), &stats)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}

	return stats, nil
}

// SetStats stores the full contributor list and a per-uploader entry for
// each contributor, so /mystats does not scan the list.
func (c *ContributorCache) SetStats(ctx context.Context, stats []candidate.ContributorAggregate, ttl time.Duration) error {
	if err := c.cache.Set(ctx, ContributorStatsKey(), stats, ttl); err != nil {
		return err
	}

	if len(stats) == 0 {
		return nil
	}

	pairs := make(map[string]interface{}, len(stats))
	for _, agg := range stats {
		pairs[ContributorKey(int64(agg.UploaderID))] = agg
	}

	return c.cache.MSet(ctx, pairs, ttl)
}

// GetContributor gets one uploader's totals from cache.
// A miss returns nil without error.
func (c *ContributorCache) GetContributor(ctx context.Context, uploaderID shared.TelegramID) (*candidate.ContributorAggregate, error) {
	var agg candidate.ContributorAggregate

	err := c.cache.Get(ctx, ContributorKey(int64(uploaderID)), &agg)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}

	return &agg, nil
}

// Invalidate drops all contributor keys. The next stats rebuild repopulates them.
func (c *ContributorCache) Invalidate(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, PrefixContributor+"*")
}
