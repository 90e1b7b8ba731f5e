package redis

import (
	"context"
	"errors"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// PublishedCache implements candidate.Cache using the generic Redis Cache.
// It keeps the approved questions of hot topics out of PostgreSQL; quiz
// delivery reads the same topic far more often than reviewers change it.
type PublishedCache struct {
	cache *Cache
}

// NewPublishedCache creates a new PublishedCache.
func NewPublishedCache(cache *Cache) *PublishedCache {
	return &PublishedCache{
		cache: cache,
	}
}

// GetPublished gets the published questions of a topic from cache.
// A miss returns nil without error; the caller falls through to the database.
func (p *PublishedCache) GetPublished(ctx context.Context, topicID shared.TopicID, difficulty candidate.Difficulty) ([]*candidate.Candidate, error) {
	var candidates []*candidate.Candidate

	key := PublishedKey(int64(topicID), string(difficulty))
	err := p.cache.Get(ctx, key, &candidates)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}

	return candidates, nil
}

// SetPublished stores the published questions of a topic in cache.
func (p *PublishedCache) SetPublished(ctx context.Context, topicID shared.TopicID, difficulty candidate.Difficulty, candidates []*candidate.Candidate, ttl time.Duration) error {
	if candidates == nil {
		candidates = []*candidate.Candidate{}
	}

	key := PublishedKey(int64(topicID), string(difficulty))
	return p.cache.Set(ctx, key, candidates, ttl)
}

// InvalidateTopic drops every cached list of a topic. Called after an
// approval publishes a new question into the topic.
func (p *PublishedCache) InvalidateTopic(ctx context.Context, topicID shared.TopicID) error {
	return p.cache.DeleteByPattern(ctx, PublishedTopicPattern(int64(topicID)))
}
