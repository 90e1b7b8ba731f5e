package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
)

// ScoreCache is the verdict store the CachedScorer reads through.
// Implemented by redis.VerdictCache.
type ScoreCache interface {
	GetVerdict(ctx context.Context, fingerprint string) (candidate.ScoreResult, bool, error)
	SetVerdict(ctx context.Context, fingerprint string, result candidate.ScoreResult) error
}

// CachedScorer reads verdicts through a cache keyed by question
// fingerprint before calling the wrapped scorer. Cache failures are
// invisible to the caller: a broken cache degrades to scoring every
// question, never to failing the ingest.
type CachedScorer struct {
	inner  candidate.Scorer
	cache  ScoreCache
	logger *slog.Logger
}

// NewCachedScorer creates a new CachedScorer.
func NewCachedScorer(inner candidate.Scorer, cache ScoreCache, logger *slog.Logger) *CachedScorer {
	if logger == nil {
		logger = slog.Default()
	}

	return &CachedScorer{
		inner:  inner,
		cache:  cache,
		logger: logger.With("component", "cached_scorer"),
	}
}

// Score implements candidate.Scorer.
func (s *CachedScorer) Score(ctx context.Context, req candidate.ScoreRequest) (candidate.ScoreResult, error) {
	fingerprint := QuestionFingerprint(req)

	cached, ok, err := s.cache.GetVerdict(ctx, fingerprint)
	if err != nil {
		s.logger.Warn("verdict cache read failed",
			"error", err,
		)
	} else if ok {
		return cached, nil
	}

	result, err := s.inner.Score(ctx, req)
	if err != nil {
		return candidate.ScoreResult{}, err
	}

	// Only successful verdicts are cached; errors and heuristic
	// fallbacks stay transient.
	if err := s.cache.SetVerdict(ctx, fingerprint, result); err != nil {
		s.logger.Warn("verdict cache write failed",
			"error", err,
		)
	}

	return result, nil
}

// QuestionFingerprint derives a stable cache key from the scoring
// request. Recognition confidence is excluded: it is metadata about the
// scan, not the question, so a re-scan of the same page still hits.
func QuestionFingerprint(req candidate.ScoreRequest) string {
	h := sha256.New()

	fmt.Fprintf(h, "%s\x1f", req.Text)
	fmt.Fprintf(h, "%s\x1f", strings.Join(req.Options, "\x1e"))
	fmt.Fprintf(h, "%d\x1f", req.CorrectIndex)
	fmt.Fprintf(h, "%s\x1f", req.Explanation)
	fmt.Fprintf(h, "%s", req.TopicName)

	return hex.EncodeToString(h.Sum(nil))
}
