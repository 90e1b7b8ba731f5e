package service

import (
	"context"
	"log/slog"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
)

// FailoverScorer tries the primary scoring provider first and retries
// the request against a fallback provider when the primary fails. Only
// when both providers fail does the caller see an error, at which point
// the moderation service degrades to the heuristic.
type FailoverScorer struct {
	primary  candidate.Scorer
	fallback candidate.Scorer
	logger   *slog.Logger
}

// NewFailoverScorer creates a new FailoverScorer.
func NewFailoverScorer(primary, fallback candidate.Scorer, logger *slog.Logger) *FailoverScorer {
	if logger == nil {
		logger = slog.Default()
	}

	return &FailoverScorer{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "failover_scorer"),
	}
}

// Score implements candidate.Scorer.
func (s *FailoverScorer) Score(ctx context.Context, req candidate.ScoreRequest) (candidate.ScoreResult, error) {
	result, primaryErr := s.primary.Score(ctx, req)
	if primaryErr == nil {
		return result, nil
	}

	// The outer context is gone: the fallback would fail the same way,
	// and retrying on a cancelled request only delays the caller.
	if ctx.Err() != nil {
		return candidate.ScoreResult{}, primaryErr
	}

	s.logger.Warn("primary scorer failed, trying fallback",
		"error", primaryErr,
	)

	result, fallbackErr := s.fallback.Score(ctx, req)
	if fallbackErr != nil {
		s.logger.Warn("fallback scorer failed",
			"error", fallbackErr,
		)
		// The primary error describes the provider the operator tuned
		// for; it is the one worth surfacing.
		return candidate.ScoreResult{}, primaryErr
	}

	return result, nil
}
