package candidate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

const (
	testCandidateUUID = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	testParentUUID    = "6f1e8f0a-2b3c-4d5e-8f9a-0b1c2d3e4f5a"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func validParams() NewCandidateParams {
	return NewCandidateParams{
		ID:           shared.CandidateID(testCandidateUUID),
		BatchID:      shared.BatchID(testParentUUID),
		TopicID:      shared.TopicID(7),
		Text:         "Which vessel carries oxygenated blood from the lungs?",
		Options:      []string{"Pulmonary vein", "Pulmonary artery", "Aorta", "Vena cava"},
		CorrectIndex: 0,
		Explanation:  "The pulmonary veins return oxygenated blood to the left atrium.",
		Confidence:   0.9,
	}
}

func newTestCandidate(t *testing.T) *Candidate {
	t.Helper()

	c, err := NewCandidate(validParams())
	require.NoError(t, err)
	return c
}

func TestNewCandidate(t *testing.T) {
	c := newTestCandidate(t)

	assert.Equal(t, StatePending, c.State)
	assert.Equal(t, DifficultyEasy, c.Difficulty)
	assert.Equal(t, 0.9, c.Confidence)
	assert.False(t, c.IsDecided())
	assert.False(t, c.IsModerated())
	assert.Equal(t, "A", c.CorrectLetter())
}

func TestNewCandidate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewCandidateParams)
		errIs  error
	}{
		{
			name:   "too short question",
			mutate: func(p *NewCandidateParams) { p.Text = "Short?" },
			errIs:  ErrQuestionTooShort,
		},
		{
			name:   "three options",
			mutate: func(p *NewCandidateParams) { p.Options = p.Options[:3] },
			errIs:  ErrWrongOptionCount,
		},
		{
			name:   "five options",
			mutate: func(p *NewCandidateParams) { p.Options = append(p.Options, "Extra") },
			errIs:  ErrWrongOptionCount,
		},
		{
			name:   "blank option",
			mutate: func(p *NewCandidateParams) { p.Options[2] = "   " },
			errIs:  ErrEmptyOption,
		},
		{
			name:   "negative correct index",
			mutate: func(p *NewCandidateParams) { p.CorrectIndex = -1 },
			errIs:  ErrCorrectOutOfRange,
		},
		{
			name:   "correct index past D",
			mutate: func(p *NewCandidateParams) { p.CorrectIndex = 4 },
			errIs:  ErrCorrectOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			params.Options = append([]string(nil), params.Options...)
			tt.mutate(&params)

			_, err := NewCandidate(params)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}

	missingID := validParams()
	missingID.ID = ""
	_, err := NewCandidate(missingID)
	assert.Error(t, err)

	badBatch := validParams()
	badBatch.BatchID = "not-a-uuid"
	_, err = NewCandidate(badBatch)
	assert.Error(t, err)
}

func TestNewCandidate_ClampsConfidence(t *testing.T) {
	params := validParams()
	params.Confidence = 1.7

	c, err := NewCandidate(params)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Confidence)

	params.Confidence = -0.2
	c, err = NewCandidate(params)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Confidence)
}

func TestScore_Verdict(t *testing.T) {
	tests := []struct {
		score   Score
		verdict Verdict
	}{
		{100, VerdictAccept},
		{80, VerdictAccept},
		{79, VerdictFlag},
		{50, VerdictFlag},
		{40, VerdictFlag},
		{39, VerdictReject},
		{0, VerdictReject},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.verdict, tt.score.Verdict(), "score %d", tt.score)
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, MaxScore, ClampScore(140))
	assert.Equal(t, MinScore, ClampScore(-5))
	assert.Equal(t, Score(67), ClampScore(67))
}

func TestEstimateDifficulty(t *testing.T) {
	shortOpts := []string{"a", "b", "c", "d"}

	assert.Equal(t, DifficultyEasy, EstimateDifficulty("Which bone is the longest?", shortOpts))
	assert.Equal(t, DifficultyMedium, EstimateDifficulty(strings.Repeat("x", 150), shortOpts))
	assert.Equal(t, DifficultyHard, EstimateDifficulty(strings.Repeat("x", 250), shortOpts))

	longOpts := []string{strings.Repeat("y", 150), strings.Repeat("y", 150), strings.Repeat("y", 150), "d"}
	assert.Equal(t, DifficultyHard, EstimateDifficulty("Which bone is the longest?", longOpts))
}

func TestApplyModeration(t *testing.T) {
	c := newTestCandidate(t)

	err := c.ApplyModeration(85, "clear and accurate", false, testNow)
	require.NoError(t, err)

	assert.Equal(t, Score(85), c.Score)
	assert.Equal(t, VerdictAccept, c.Verdict)
	assert.Equal(t, "clear and accurate", c.Comments)
	assert.False(t, c.Heuristic)
	assert.True(t, c.IsModerated())

	assert.Error(t, c.ApplyModeration(101, "", false, testNow))
}

func TestDecide(t *testing.T) {
	c := newTestCandidate(t)

	err := c.Decide(VerdictAccept, 200, testNow)
	require.NoError(t, err)

	assert.Equal(t, StateApproved, c.State)
	assert.Equal(t, shared.TelegramID(200), c.ReviewedBy)
	assert.Equal(t, testNow, c.DecidedAt)
	assert.True(t, c.IsPublished())
}

func TestDecide_Reject(t *testing.T) {
	c := newTestCandidate(t)

	err := c.Decide(VerdictReject, 200, testNow)
	require.NoError(t, err)

	assert.Equal(t, StateRejected, c.State)
	assert.False(t, c.IsPublished())
}

func TestDecide_FlagIsNotADecision(t *testing.T) {
	c := newTestCandidate(t)

	err := c.Decide(VerdictFlag, 200, testNow)
	assert.ErrorIs(t, err, ErrNotDecidable)
	assert.Equal(t, StatePending, c.State)
}

func TestDecide_SecondDecisionLoses(t *testing.T) {
	c := newTestCandidate(t)

	require.NoError(t, c.Decide(VerdictAccept, 200, testNow))

	// Проигравший в гонке получает ErrAlreadyDecided,
	// состояние не меняется.
	err := c.Decide(VerdictReject, 300, testNow.Add(time.Second))
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Equal(t, StateApproved, c.State)
	assert.Equal(t, shared.TelegramID(200), c.ReviewedBy)
}

func TestAutoReject(t *testing.T) {
	c := newTestCandidate(t)
	require.NoError(t, c.ApplyModeration(20, "incoherent", false, testNow))

	err := c.AutoReject(testNow)
	require.NoError(t, err)

	assert.Equal(t, StateRejected, c.State)
	assert.Equal(t, shared.TelegramID(0), c.ReviewedBy)
	assert.Equal(t, testNow, c.DecidedAt)

	assert.ErrorIs(t, c.AutoReject(testNow), ErrAlreadyDecided)
}

func TestAutoReject_RequiresRejectVerdict(t *testing.T) {
	c := newTestCandidate(t)
	require.NoError(t, c.ApplyModeration(60, "", false, testNow))

	assert.Error(t, c.AutoReject(testNow))
	assert.Equal(t, StatePending, c.State)
}

func TestPreview(t *testing.T) {
	c := newTestCandidate(t)

	assert.Equal(t, c.Text, c.Preview(200))
	assert.Equal(t, "Which ves...", c.Preview(12))
}

func TestClone(t *testing.T) {
	c := newTestCandidate(t)

	clone := c.Clone()
	clone.Options[0] = "changed"

	assert.Equal(t, "Pulmonary vein", c.Options[0])
}
