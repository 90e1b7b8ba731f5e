package redis

import (
	"context"
	"time"
)

// AlertGuard deduplicates operational alerts across worker instances.
// The first caller for a given kind and target wins the SetNX race;
// everyone else stays quiet until the window expires.
type AlertGuard struct {
	cache *Cache
}

// NewAlertGuard creates a new AlertGuard.
func NewAlertGuard(cache *Cache) *AlertGuard {
	return &AlertGuard{
		cache: cache,
	}
}

// FirstWithin reports whether this is the first alert of the given kind for
// the target within the window. Implements eventhandler.AlertDeduper.
func (g *AlertGuard) FirstWithin(ctx context.Context, kind, target string, window time.Duration) (bool, error) {
	return g.cache.SetNX(ctx, NotificationDedupKey(kind, target), 1, window)
}
