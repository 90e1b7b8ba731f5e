package redis

import (
	"context"
	"errors"
	"time"
)

// DefaultQueueTTL bounds how stale a cached queue page may get. Lease
// expiry is evaluated lazily at read time, so the snapshot must be
// short-lived: a page older than this could show a lock that has
// already expired.
const DefaultQueueTTL = 30 * time.Second

// QueueCache stores rendered review queue pages per admin. The queue
// listing joins batches, lease state and topic paths on every /review,
// and reviewers poll it far more often than it changes.
//
// The snapshot rides through as opaque JSON so this package does not
// depend on the application layer's DTOs.
type QueueCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewQueueCache creates a new QueueCache. A non-positive TTL means the
// default.
func NewQueueCache(cache *Cache, ttl time.Duration) *QueueCache {
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}

	return &QueueCache{
		cache: cache,
		ttl:   ttl,
	}
}

// GetQueue reads a cached queue page into dest. A miss returns ok=false
// without error.
func (q *QueueCache) GetQueue(ctx context.Context, adminID int64, page, pageSize int, dest interface{}) (bool, error) {
	err := q.cache.Get(ctx, QueueKey(adminID, page, pageSize), dest)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetQueue stores a queue page.
func (q *QueueCache) SetQueue(ctx context.Context, adminID int64, page, pageSize int, snapshot interface{}) error {
	return q.cache.Set(ctx, QueueKey(adminID, page, pageSize), snapshot, q.ttl)
}

// InvalidateQueues drops every cached queue page. Queue membership is
// admin-specific through topic scoping, so any queue-changing event
// invalidates all admins' pages at once.
func (q *QueueCache) InvalidateQueues(ctx context.Context) error {
	return q.cache.DeleteByPattern(ctx, QueuePattern())
}
