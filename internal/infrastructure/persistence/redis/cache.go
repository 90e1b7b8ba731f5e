// Package redis keeps the pipeline's hot read paths out of PostgreSQL.
// One generic JSON cache backs several consumers: published questions
// per topic for quiz delivery, precomputed contributor totals, review
// queue snapshots, scorer verdicts keyed by question fingerprint, a
// dedup guard that keeps repeated ops alerts quiet, a shared counter
// for the upload rate limiter and the pub/sub bridge of the
// cross-instance event bus. Redis is optional: both entrypoints fall
// back to database-only, single-instance operation when it is absent.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss signals an absent key. Callers treat it as "go ask
	// PostgreSQL", never as a failure.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection wraps a failed initial connect.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization wraps JSON marshal/unmarshal failures.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")
	ErrCacheKeyEmpty   = errors.New("cache: key cannot be empty")
	ErrCacheNilValue   = errors.New("cache: value cannot be nil")
)

// Key namespaces. Every key this package writes starts with one of
// these, so a stray FLUSHALL in another tool's namespace cannot be
// blamed on us and pattern invalidation stays scoped.
const (
	PrefixPublished    = "published:"
	PrefixContributor  = "contributor:"
	PrefixNotification = "notification:"
	PrefixQueue        = "queue:"
	PrefixVerdict      = "verdict:"
	PrefixRateLimit    = "ratelimit:"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the Redis connection settings. The entrypoints override
// host, port, credentials and pool sizing from the environment; the
// rest keeps the defaults.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig returns settings sized for a small managed instance;
// the cache carries lists of a few hundred questions, not bulk data.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// Addr renders the "host:port" form go-redis expects.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Cache is a thin JSON-serializing wrapper over go-redis. The typed
// caches in this package (PublishedCache, ContributorCache, QueueCache,
// VerdictCache, AlertGuard, RateLimitGuard) build on it; nothing
// outside the package touches raw keys.
type Cache struct {
	client *redis.Client
	config Config
}

// NewCache connects and verifies the connection with a ping, so a
// misconfigured Redis fails at startup rather than on the first read.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return &Cache{client: client, config: cfg}, nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Set stores a JSON-serialized value under key with the given TTL.
// A zero TTL means no expiry; negative TTLs are rejected.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if value == nil {
		return ErrCacheNilValue
	}
	if ttl < 0 {
		return ErrCacheInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get reads a key into dest. Returns ErrCacheMiss when the key does not
// exist.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// SetNX stores the value only when the key is absent and reports
// whether it won. The alert dedup guard is built on this.
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return false, ErrCacheInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.SetNX(ctx, key, data, ttl).Result()
}

// MSet stores several values in one pipelined round trip, all with the
// same TTL. The stats rebuild job uses it to refresh every contributor
// at once.
func (c *Cache) MSet(ctx context.Context, pairs map[string]interface{}, ttl time.Duration) error {
	if len(pairs) == 0 {
		return nil
	}
	if ttl < 0 {
		return ErrCacheInvalidTTL
	}

	pipe := c.client.Pipeline()
	for key, value := range pairs {
		if key == "" {
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%w: key %s: %v", ErrCacheSerialization, key, err)
		}
		pipe.Set(ctx, key, data, ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes the given keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeleteByPattern removes every key matching pattern via SCAN, deleting
// in chunks so a hot topic with many cached difficulty slices does not
// produce one giant DEL.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return ErrCacheKeyEmpty
	}

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.Delete(ctx, keys...); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.Delete(ctx, keys...)
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// PublishedKey is the cache key for one topic's published questions.
// An empty difficulty means the unfiltered list.
func PublishedKey(topicID int64, difficulty string) string {
	if difficulty == "" {
		difficulty = "all"
	}
	return fmt.Sprintf("%stopic:%d:%s", PrefixPublished, topicID, difficulty)
}

// PublishedTopicPattern matches every published key of one topic,
// whatever the difficulty filter.
func PublishedTopicPattern(topicID int64) string {
	return fmt.Sprintf("%stopic:%d:*", PrefixPublished, topicID)
}

// ContributorStatsKey is the cache key for the full contributor
// leaderboard.
func ContributorStatsKey() string {
	return PrefixContributor + "stats"
}

// ContributorKey is the cache key for one uploader's totals.
func ContributorKey(uploaderID int64) string {
	return fmt.Sprintf("%s%d", PrefixContributor, uploaderID)
}

// NotificationDedupKey is the SetNX key that suppresses a repeat of the
// same alert kind for the same target within the dedup window.
func NotificationDedupKey(kind, target string) string {
	return fmt.Sprintf("%s%s:%s", PrefixNotification, kind, target)
}

// QueueKey is the cache key for one page of an admin's review queue.
// The admin id is part of the key because topic scoping makes the
// queue view admin-specific.
func QueueKey(adminID int64, page, pageSize int) string {
	return fmt.Sprintf("%s%d:%d:%d", PrefixQueue, adminID, page, pageSize)
}

// QueuePattern matches every cached review queue page.
func QueuePattern() string {
	return PrefixQueue + "*"
}

// VerdictKey is the cache key for a scorer verdict, keyed by the
// question fingerprint.
func VerdictKey(fingerprint string) string {
	return PrefixVerdict + fingerprint
}

// RateLimitKey is the counter key for one caller's fixed rate window.
func RateLimitKey(key string) string {
	return PrefixRateLimit + key
}
