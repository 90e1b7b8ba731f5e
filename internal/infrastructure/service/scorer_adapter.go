package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/scorer"
)

// ScorerAdapter adapts the scorer.Client to the candidate.Scorer port.
// Transport failures are folded into shared sentinel errors, so the
// moderation service degrades to the heuristic without seeing HTTP details.
type ScorerAdapter struct {
	client  *scorer.Client
	timeout time.Duration
}

// NewScorerAdapter creates a new ScorerAdapter. A non-positive timeout
// disables the per-call deadline.
func NewScorerAdapter(client *scorer.Client, timeout time.Duration) *ScorerAdapter {
	return &ScorerAdapter{
		client:  client,
		timeout: timeout,
	}
}

// Score implements candidate.Scorer.
func (a *ScorerAdapter) Score(ctx context.Context, req candidate.ScoreRequest) (candidate.ScoreResult, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	dto, err := a.client.AssessQuestion(ctx, a.client.Mapper().ScoreRequestToDTO(req))
	if err != nil {
		return candidate.ScoreResult{}, mapScorerError(err)
	}

	result, err := a.client.Mapper().ScoreResultFromDTO(dto)
	if err != nil {
		return candidate.ScoreResult{}, fmt.Errorf("%w: %v", shared.ErrScorerInvalidResponse, err)
	}

	return result, nil
}

// mapScorerError folds a transport error into a domain sentinel.
func mapScorerError(err error) error {
	var rateLimitErr *scorer.RateLimitError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", shared.ErrScorerTimeout, err)
	case errors.As(err, &rateLimitErr):
		return fmt.Errorf("%w: %v", shared.ErrScorerRateLimited, err)
	default:
		return fmt.Errorf("%w: %v", shared.ErrScorerUnavailable, err)
	}
}
