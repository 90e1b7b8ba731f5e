package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
)

// memScoreCache stores verdicts in a map; gets and sets can be failed.
type memScoreCache struct {
	verdicts map[string]candidate.ScoreResult
	getErr   error
	setErr   error
	gets     int
	sets     int
}

func newMemScoreCache() *memScoreCache {
	return &memScoreCache{verdicts: make(map[string]candidate.ScoreResult)}
}

func (c *memScoreCache) GetVerdict(_ context.Context, fingerprint string) (candidate.ScoreResult, bool, error) {
	c.gets++
	if c.getErr != nil {
		return candidate.ScoreResult{}, false, c.getErr
	}
	result, ok := c.verdicts[fingerprint]
	return result, ok, nil
}

func (c *memScoreCache) SetVerdict(_ context.Context, fingerprint string, result candidate.ScoreResult) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.verdicts[fingerprint] = result
	return nil
}

func TestCachedScorer_RepeatedQuestionHitsCache(t *testing.T) {
	inner := &stubScorer{result: candidate.ScoreResult{Score: 85, Comments: "solid"}}
	cache := newMemScoreCache()

	s := NewCachedScorer(inner, cache, discardLogger())

	first, err := s.Score(context.Background(), scoreRequest())
	require.NoError(t, err)

	second, err := s.Score(context.Background(), scoreRequest())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "the second request must be served from the cache")
	assert.Equal(t, 1, cache.sets)
}

func TestCachedScorer_ErrorsAreNotCached(t *testing.T) {
	inner := &stubScorer{err: errors.New("provider down")}
	cache := newMemScoreCache()

	s := NewCachedScorer(inner, cache, discardLogger())

	_, err := s.Score(context.Background(), scoreRequest())
	require.Error(t, err)
	assert.Equal(t, 0, cache.sets)
}

func TestCachedScorer_CacheFailuresAreInvisible(t *testing.T) {
	inner := &stubScorer{result: candidate.ScoreResult{Score: 60}}
	cache := newMemScoreCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")

	s := NewCachedScorer(inner, cache, discardLogger())

	result, err := s.Score(context.Background(), scoreRequest())
	require.NoError(t, err)
	assert.Equal(t, candidate.Score(60), result.Score)
	assert.Equal(t, 1, inner.calls)
}

func TestQuestionFingerprint_IgnoresRecognitionConfidence(t *testing.T) {
	clean := scoreRequest()

	rescanned := scoreRequest()
	rescanned.Confidence = 0.55

	assert.Equal(t, QuestionFingerprint(clean), QuestionFingerprint(rescanned),
		"a re-scan of the same page must hit the cached verdict")

	other := scoreRequest()
	other.CorrectIndex = 1
	assert.NotEqual(t, QuestionFingerprint(clean), QuestionFingerprint(other))
}
