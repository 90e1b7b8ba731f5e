package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/messaging"
)

// EventBridge adapts the shared go-redis connection to the event bus's
// RedisClient port, giving a multi-instance deployment one Pub/Sub
// channel for cross-process events. It reuses the cache's connection
// pool; Pub/Sub holds its own dedicated connections on top of it.
type EventBridge struct {
	cache *Cache

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewEventBridge creates a new EventBridge over the cache connection.
func NewEventBridge(cache *Cache) *EventBridge {
	return &EventBridge{cache: cache}
}

// Publish implements messaging.RedisClient.
func (b *EventBridge) Publish(ctx context.Context, channel string, message interface{}) error {
	return b.cache.client.Publish(ctx, channel, message).Err()
}

// Subscribe implements messaging.RedisClient. The returned channel
// closes when the subscription ends or ctx is cancelled.
func (b *EventBridge) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := b.cache.client.Subscribe(ctx, channels...)

	// Confirm the subscription before reporting success, so a dead
	// Redis surfaces at startup instead of as silently missing events.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close implements messaging.RedisClient. It closes the subscriptions
// only; the underlying pool belongs to the cache.
func (b *EventBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.subs = nil

	return firstErr
}
