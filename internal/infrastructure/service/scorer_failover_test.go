package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
)

// stubScorer answers every request with a fixed result or error.
type stubScorer struct {
	result candidate.ScoreResult
	err    error
	calls  int
}

func (s *stubScorer) Score(_ context.Context, _ candidate.ScoreRequest) (candidate.ScoreResult, error) {
	s.calls++
	if s.err != nil {
		return candidate.ScoreResult{}, s.err
	}
	return s.result, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scoreRequest() candidate.ScoreRequest {
	return candidate.ScoreRequest{
		Text:         "Which chamber of the heart pumps blood into the aorta?",
		Options:      []string{"Left ventricle", "Right ventricle", "Left atrium", "Right atrium"},
		CorrectIndex: 0,
		TopicName:    "Cardiac Physiology",
	}
}

func TestFailoverScorer_PrimarySuccessSkipsFallback(t *testing.T) {
	primary := &stubScorer{result: candidate.ScoreResult{Score: 85, Comments: "solid"}}
	fallback := &stubScorer{result: candidate.ScoreResult{Score: 40}}

	s := NewFailoverScorer(primary, fallback, discardLogger())

	result, err := s.Score(context.Background(), scoreRequest())
	require.NoError(t, err)
	assert.Equal(t, candidate.Score(85), result.Score)
	assert.Equal(t, 0, fallback.calls)
}

func TestFailoverScorer_FallbackCoversPrimaryFailure(t *testing.T) {
	primary := &stubScorer{err: errors.New("primary: 503")}
	fallback := &stubScorer{result: candidate.ScoreResult{Score: 72, Comments: "second opinion"}}

	s := NewFailoverScorer(primary, fallback, discardLogger())

	result, err := s.Score(context.Background(), scoreRequest())
	require.NoError(t, err)
	assert.Equal(t, candidate.Score(72), result.Score)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestFailoverScorer_BothFailSurfacePrimaryError(t *testing.T) {
	primaryErr := errors.New("primary: 503")
	primary := &stubScorer{err: primaryErr}
	fallback := &stubScorer{err: errors.New("fallback: quota exceeded")}

	s := NewFailoverScorer(primary, fallback, discardLogger())

	_, err := s.Score(context.Background(), scoreRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, primaryErr)
}

func TestFailoverScorer_CancelledContextSkipsFallback(t *testing.T) {
	primary := &stubScorer{err: context.Canceled}
	fallback := &stubScorer{result: candidate.ScoreResult{Score: 50}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewFailoverScorer(primary, fallback, discardLogger())

	_, err := s.Score(ctx, scoreRequest())
	require.Error(t, err)
	assert.Equal(t, 0, fallback.calls, "a dead request must not hit the second provider")
}
