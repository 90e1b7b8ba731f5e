package candidate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

type stubScorer struct {
	result ScoreResult
	err    error
	calls  int
}

func (s *stubScorer) Score(_ context.Context, _ ScoreRequest) (ScoreResult, error) {
	s.calls++
	return s.result, s.err
}

func TestHeuristicScore(t *testing.T) {
	fourOpts := []string{"a", "b", "c", "d"}

	assert.Equal(t, HeuristicWellFormedScore, HeuristicScore("What is the function of the mitral valve?", fourOpts))
	assert.Equal(t, HeuristicWellFormedScore, HeuristicScore("  Ends with question mark?  ", fourOpts))

	// Без знака вопроса - базовая оценка.
	assert.Equal(t, HeuristicBaseScore, HeuristicScore("Name the longest bone in the body.", fourOpts))

	// Неполный набор вариантов - базовая оценка.
	assert.Equal(t, HeuristicBaseScore, HeuristicScore("What is the function of the mitral valve?", fourOpts[:3]))
}

func TestModerate_NilScorerUsesHeuristic(t *testing.T) {
	m := NewModerator(nil)

	a := m.Moderate(context.Background(), ScoreRequest{
		Text:    "What is the primary function of hemoglobin?",
		Options: []string{"a", "b", "c", "d"},
	})

	assert.Equal(t, HeuristicWellFormedScore, a.Score)
	assert.Equal(t, VerdictFlag, a.Verdict)
	assert.True(t, a.Heuristic)
	assert.False(t, a.Degraded())
	assert.Equal(t, HeuristicComments, a.Comments)
}

func TestModerate_ScorerResult(t *testing.T) {
	scorer := &stubScorer{result: ScoreResult{Score: 92, Comments: "excellent clarity"}}
	m := NewModerator(scorer)

	a := m.Moderate(context.Background(), ScoreRequest{
		Text:       "What is the primary function of hemoglobin?",
		Options:    []string{"a", "b", "c", "d"},
		Confidence: 0.9,
	})

	assert.Equal(t, Score(92), a.Score)
	assert.Equal(t, VerdictAccept, a.Verdict)
	assert.Equal(t, "excellent clarity", a.Comments)
	assert.False(t, a.Heuristic)
	assert.False(t, a.Degraded())
	assert.Equal(t, 1, scorer.calls)
}

func TestModerate_ScorerFailureDegradesToHeuristic(t *testing.T) {
	cause := errors.New("scorer timeout")
	scorer := &stubScorer{err: cause}
	m := NewModerator(scorer)

	a := m.Moderate(context.Background(), ScoreRequest{
		Text:    "What is the primary function of hemoglobin?",
		Options: []string{"a", "b", "c", "d"},
	})

	// Сбой скорера не ошибка: эвристика подставляется молча,
	// причина сохраняется для аудита.
	assert.True(t, a.Heuristic)
	assert.True(t, a.Degraded())
	assert.ErrorIs(t, a.Cause, cause)
	assert.Equal(t, HeuristicWellFormedScore, a.Score)
	assert.Equal(t, VerdictFlag, a.Verdict)
}

func TestModerate_LowConfidenceCapsAccept(t *testing.T) {
	scorer := &stubScorer{result: ScoreResult{Score: 95, Comments: "good"}}
	m := NewModerator(scorer)

	a := m.Moderate(context.Background(), ScoreRequest{
		Text:       "What is the primary function of hemoglobin?",
		Options:    []string{"a", "b", "c", "d"},
		Confidence: 0.6,
	})

	// Низкая уверенность извлечения не даёт опубликовать без ревью.
	assert.Equal(t, Score(95), a.Score)
	assert.Equal(t, VerdictFlag, a.Verdict)
}

func TestModerate_LowConfidenceDoesNotTouchReject(t *testing.T) {
	scorer := &stubScorer{result: ScoreResult{Score: 20, Comments: "incoherent"}}
	m := NewModerator(scorer)

	a := m.Moderate(context.Background(), ScoreRequest{
		Text:       "What is the primary function of hemoglobin?",
		Options:    []string{"a", "b", "c", "d"},
		Confidence: 0.6,
	})

	assert.Equal(t, VerdictReject, a.Verdict)
}

func TestModerateAndApply(t *testing.T) {
	c := newTestCandidate(t)
	scorer := &stubScorer{result: ScoreResult{Score: 88, Comments: "solid"}}
	m := NewModerator(scorer)

	a, err := m.ModerateAndApply(context.Background(), c, "Human Anatomy", testNow)
	require.NoError(t, err)

	assert.Equal(t, Score(88), a.Score)
	assert.Equal(t, Score(88), c.Score)
	assert.Equal(t, VerdictAccept, c.Verdict)
	assert.Equal(t, StatePending, c.State)
}

func TestModerateAndApply_AutoRejects(t *testing.T) {
	c := newTestCandidate(t)
	scorer := &stubScorer{result: ScoreResult{Score: 15, Comments: "not a real question"}}
	m := NewModerator(scorer)

	_, err := m.ModerateAndApply(context.Background(), c, "Human Anatomy", testNow)
	require.NoError(t, err)

	assert.Equal(t, VerdictReject, c.Verdict)
	assert.Equal(t, StateRejected, c.State)
	assert.Equal(t, shared.TelegramID(0), c.ReviewedBy)
}

func TestModerateAndApply_LowConfidenceVerdictReachesEntity(t *testing.T) {
	params := validParams()
	params.Confidence = 0.6
	c, err := NewCandidate(params)
	require.NoError(t, err)

	scorer := &stubScorer{result: ScoreResult{Score: 90, Comments: "good"}}
	m := NewModerator(scorer)

	_, err = m.ModerateAndApply(context.Background(), c, "Human Anatomy", testNow)
	require.NoError(t, err)

	assert.Equal(t, Score(90), c.Score)
	assert.Equal(t, VerdictFlag, c.Verdict)
	assert.Equal(t, StatePending, c.State)
}
