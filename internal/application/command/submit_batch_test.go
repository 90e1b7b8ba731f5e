package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

const (
	questionAorta  = "Which chamber of the heart pumps blood into the aorta?"
	questionMitral = "Which valve separates the left atrium from the left ventricle?"
	questionLungs  = "Which vessel carries deoxygenated blood to the lungs?"
)

const threeQuestionDoc = `Question 1: Which chamber of the heart pumps blood into the aorta?
A) Left ventricle
B) Right ventricle
C) Left atrium
D) Right atrium
Answer: A

Question 2: Which valve separates the left atrium from the left ventricle?
A) Tricuspid valve
B) Mitral valve
C) Pulmonary valve
D) Aortic valve
Answer: B
Explanation: The mitral valve is also called the bicuspid valve.

Question 3: Which vessel carries deoxygenated blood to the lungs?
A) Pulmonary vein
B) Aorta
C) Pulmonary artery
D) Coronary artery
Answer: C
`

const oneQuestionDoc = `Question 1: Which chamber of the heart pumps blood into the aorta?
A) Left ventricle
B) Right ventricle
C) Left atrium
D) Right atrium
Answer: A
`

// fakeScorer scores candidates by question text, or fails every call.
type fakeScorer struct {
	scores map[string]candidate.Score
	err    error
	calls  int
}

func (s *fakeScorer) Score(_ context.Context, req candidate.ScoreRequest) (candidate.ScoreResult, error) {
	s.calls++
	if s.err != nil {
		return candidate.ScoreResult{}, s.err
	}
	return candidate.ScoreResult{Score: s.scores[req.Text], Comments: "external assessment"}, nil
}

type fakeRecognizer struct {
	text       string
	confidence float64
	err        error
}

func (r *fakeRecognizer) Recognize(_ context.Context, _ batch.SourceKind, _ []byte, _ string) (RecognizedText, error) {
	if r.err != nil {
		return RecognizedText{}, r.err
	}
	return RecognizedText{Text: r.text, Pages: 1, Confidence: r.confidence}, nil
}

type submitEnv struct {
	store   *memStore
	ids     *seqIDs
	clock   *testClock
	sink    *eventSink
	handler *SubmitBatchHandler
}

func newSubmitEnv(t *testing.T, scorer *fakeScorer, recognizer *fakeRecognizer, admins ...*admin.Admin) *submitEnv {
	t.Helper()

	env := &submitEnv{
		store: newMemStore(),
		ids:   &seqIDs{},
		clock: newTestClock(),
		sink:  &eventSink{},
	}

	var port candidate.Scorer
	if scorer != nil {
		port = scorer
	}

	var rec TextRecognizer
	if recognizer != nil {
		rec = recognizer
	}

	env.handler = NewSubmitBatchHandler(
		env.store,
		newMemAdmins(admins...),
		newMemTopics(testTopic()),
		rec,
		candidate.NewModerator(port),
		env.ids,
		env.sink,
		SubmitBatchHandlerConfig{Clock: env.clock.Now},
	)
	return env
}

func (e *submitEnv) submitText(uploaderID int64, text string) (*SubmitBatchResult, error) {
	return e.handler.Handle(context.Background(), SubmitBatchCommand{
		UploaderID: uploaderID,
		TopicID:    testTopicID,
		Kind:       string(batch.SourceText),
		Text:       text,
	})
}

func (e *submitEnv) candidateByText(text string) *candidate.Candidate {
	for _, c := range e.store.candidates {
		if c.Text == text {
			return c.Clone()
		}
	}
	return nil
}

func TestSubmitBatch_RoutesCandidatesByScore(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]candidate.Score{
		questionAorta:  85,
		questionMitral: 60,
		questionLungs:  20,
	}}
	env := newSubmitEnv(t, scorer, nil, activeAdmin(uploaderX))

	res, err := env.submitText(uploaderX, threeQuestionDoc)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Pending)
	assert.Equal(t, 1, res.Flagged)
	assert.Equal(t, 1, res.AutoRejected)
	assert.Equal(t, 0, res.Malformed)
	assert.False(t, res.Truncated)
	assert.False(t, res.Degraded)
	assert.False(t, res.Completed)
	assert.Equal(t, 3, scorer.calls)

	accepted := env.candidateByText(questionAorta)
	require.NotNil(t, accepted)
	assert.Equal(t, candidate.StatePending, accepted.State)
	assert.Equal(t, candidate.VerdictAccept, accepted.Verdict)
	assert.Equal(t, candidate.Score(85), accepted.Score)

	flagged := env.candidateByText(questionMitral)
	require.NotNil(t, flagged)
	assert.Equal(t, candidate.StatePending, flagged.State)
	assert.Equal(t, candidate.VerdictFlag, flagged.Verdict)

	rejected := env.candidateByText(questionLungs)
	require.NotNil(t, rejected)
	assert.Equal(t, candidate.StateRejected, rejected.State)

	stored := env.store.onlyBatch()
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusDraft, stored.Status)
	assert.Equal(t, 2, stored.PendingCount)
	assert.Equal(t, 1, stored.RejectedCount)

	assert.Len(t, env.store.recordsByAction(audit.ActionBatchSubmitted), 1)
	assert.Len(t, env.store.recordsByAction(audit.ActionBatchIngested), 1)
	assert.Len(t, env.store.recordsByAction(audit.ActionAutoReject), 1)
	assert.Empty(t, env.store.recordsByAction(audit.ActionModerationDegraded))

	assert.Len(t, env.sink.ofType(shared.EventCandidateScored), 3)

	ingested := env.sink.ofType(shared.EventBatchIngested)
	require.Len(t, ingested, 1)
	event, ok := ingested[0].(shared.BatchIngestedEvent)
	require.True(t, ok)
	assert.Equal(t, uploaderX, event.UploaderID)
	assert.Equal(t, 3, event.CandidateRows)
	assert.Equal(t, 1, event.FlaggedRows)
	assert.Equal(t, 1, event.RejectedRows)
	assert.False(t, event.Degraded)
}

func TestSubmitBatch_ScorerFailureFallsBackToHeuristic(t *testing.T) {
	scorer := &fakeScorer{err: shared.ErrScorerTimeout}
	env := newSubmitEnv(t, scorer, nil, activeAdmin(uploaderX))

	res, err := env.submitText(uploaderX, threeQuestionDoc)
	require.NoError(t, err)

	// Every question ends with "?" and carries four options, so the
	// heuristic lands each one in the flag band.
	assert.True(t, res.Degraded)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Pending)
	assert.Equal(t, 3, res.Flagged)
	assert.Equal(t, 0, res.AutoRejected)

	c := env.candidateByText(questionAorta)
	require.NotNil(t, c)
	assert.True(t, c.Heuristic)
	assert.Equal(t, candidate.HeuristicWellFormedScore, c.Score)
	assert.Equal(t, candidate.VerdictFlag, c.Verdict)
	assert.Equal(t, candidate.HeuristicComments, c.Comments)

	stored := env.store.onlyBatch()
	require.NotNil(t, stored)
	assert.True(t, stored.Degraded)
	assert.Equal(t, batch.StatusDraft, stored.Status)

	notices := env.store.recordsByAction(audit.ActionModerationDegraded)
	require.Len(t, notices, 3)
	assert.True(t, notices[0].IsSystem())
	assert.Equal(t, "external", notices[0].OldValue)
	assert.Equal(t, "heuristic: "+shared.ErrScorerTimeout.Error(), notices[0].NewValue)

	degradedEvents := env.sink.ofType(shared.EventScorerDegraded)
	require.Len(t, degradedEvents, 3)
	event, ok := degradedEvents[0].(shared.ScorerDegradedEvent)
	require.True(t, ok)
	assert.Equal(t, res.BatchID, event.BatchID)
}

func TestSubmitBatch_WithoutScorerIsNotDegraded(t *testing.T) {
	env := newSubmitEnv(t, nil, nil, activeAdmin(uploaderX))

	res, err := env.submitText(uploaderX, oneQuestionDoc)
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	assert.Equal(t, 1, res.Pending)

	c := env.candidateByText(questionAorta)
	require.NotNil(t, c)
	assert.True(t, c.Heuristic)

	assert.Empty(t, env.store.recordsByAction(audit.ActionModerationDegraded))
	assert.Empty(t, env.sink.ofType(shared.EventScorerDegraded))
}

func TestSubmitBatch_LowRecognitionConfidenceForcesReview(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]candidate.Score{questionAorta: 85}}
	recognizer := &fakeRecognizer{text: oneQuestionDoc, confidence: 0.5}
	env := newSubmitEnv(t, scorer, recognizer, activeAdmin(uploaderX))

	res, err := env.handler.Handle(context.Background(), SubmitBatchCommand{
		UploaderID: uploaderX,
		TopicID:    testTopicID,
		Kind:       string(batch.SourcePDF),
		Content:    []byte("%PDF-1.7 stub"),
		Filename:   "cardiology.pdf",
	})
	require.NoError(t, err)

	// Extraction confidence 0.9 scaled by recognition confidence 0.5
	// falls below the review threshold: accept downgrades to flag.
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Flagged)

	c := env.candidateByText(questionAorta)
	require.NotNil(t, c)
	assert.Equal(t, candidate.VerdictFlag, c.Verdict)
	assert.Equal(t, candidate.Score(85), c.Score)
	assert.Equal(t, candidate.StatePending, c.State)
	assert.InDelta(t, 0.45, c.Confidence, 0.0001)
}

func TestSubmitBatch_EmptyDocumentRecordsFailedIngest(t *testing.T) {
	env := newSubmitEnv(t, nil, nil, activeAdmin(uploaderX))

	res, err := env.submitText(uploaderX, "Lecture notes about the cardiac cycle without any quiz material.")
	require.NoError(t, err)

	assert.True(t, res.IngestFailed)
	assert.Equal(t, "document produced no parseable candidates", res.FailureReason)
	assert.Equal(t, 0, res.Total)

	// The attempt stays on record as an abandoned batch.
	stored := env.store.onlyBatch()
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusAbandoned, stored.Status)

	abandoned := env.store.recordsByAction(audit.ActionBatchAbandoned)
	require.Len(t, abandoned, 1)
	assert.True(t, abandoned[0].IsSystem())

	failed := env.sink.ofType(shared.EventBatchIngestFailed)
	require.Len(t, failed, 1)
	event, ok := failed[0].(shared.BatchIngestFailedEvent)
	require.True(t, ok)
	assert.Equal(t, uploaderX, event.UploaderID)
	assert.Equal(t, res.FailureReason, event.Reason)
}

func TestSubmitBatch_AllAutoRejectedCompletesBatch(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]candidate.Score{
		questionAorta:  20,
		questionMitral: 10,
		questionLungs:  0,
	}}
	env := newSubmitEnv(t, scorer, nil, activeAdmin(uploaderX))

	res, err := env.submitText(uploaderX, threeQuestionDoc)
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.AutoRejected)
	assert.Equal(t, 0, res.Pending)

	stored := env.store.onlyBatch()
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusCompleted, stored.Status)

	assert.Len(t, env.store.recordsByAction(audit.ActionAutoReject), 3)

	completions := env.sink.ofType(shared.EventBatchCompleted)
	require.Len(t, completions, 1)
	event, ok := completions[0].(shared.BatchCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, 0, event.Approved)
	assert.Equal(t, 3, event.Rejected)
}

func TestSubmitBatch_RecognizerFailureAbortsSubmission(t *testing.T) {
	recognizer := &fakeRecognizer{err: shared.ErrOCRUnavailable}
	env := newSubmitEnv(t, nil, recognizer, activeAdmin(uploaderX))

	_, err := env.handler.Handle(context.Background(), SubmitBatchCommand{
		UploaderID: uploaderX,
		TopicID:    testTopicID,
		Kind:       string(batch.SourcePDF),
		Content:    []byte("%PDF-1.7 stub"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrOCRUnavailable)

	// Nothing is persisted when the document cannot be read at all.
	assert.Nil(t, env.store.onlyBatch())
	assert.Equal(t, 0, env.store.commits)
	assert.Empty(t, env.sink.events)
}

func TestSubmitBatch_TruncatesOversizedDocument(t *testing.T) {
	env := &submitEnv{
		store: newMemStore(),
		ids:   &seqIDs{},
		clock: newTestClock(),
		sink:  &eventSink{},
	}
	env.handler = NewSubmitBatchHandler(
		env.store,
		newMemAdmins(activeAdmin(uploaderX)),
		newMemTopics(testTopic()),
		nil,
		candidate.NewModerator(nil),
		env.ids,
		env.sink,
		SubmitBatchHandlerConfig{MaxCandidates: 2, Clock: env.clock.Now},
	)

	res, err := env.submitText(uploaderX, threeQuestionDoc)
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, env.store.candidates, 2)
	assert.Nil(t, env.candidateByText(questionLungs))
}

func TestSubmitBatch_SkipsMalformedBlocks(t *testing.T) {
	doc := oneQuestionDoc + `
Question 2: Which valve separates the left atrium from the left ventricle?
A) Tricuspid valve
B) Mitral valve
` + `
Question 3: Which vessel carries deoxygenated blood to the lungs?
A) Pulmonary vein
B) Aorta
C) Pulmonary artery
D) Coronary artery
Answer: C
`
	env := newSubmitEnv(t, nil, nil, activeAdmin(uploaderX))

	res, err := env.submitText(uploaderX, doc)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Malformed)
	assert.Nil(t, env.candidateByText(questionMitral))
}

func TestSubmitBatch_Authorization(t *testing.T) {
	student := activeAdmin(600800)
	student.Role = shared.RoleStudent

	env := newSubmitEnv(t, nil, nil, student)

	_, err := env.submitText(999999, oneQuestionDoc)
	assert.ErrorIs(t, err, shared.ErrAdminNotAuthorized)

	_, err = env.submitText(600800, oneQuestionDoc)
	assert.ErrorIs(t, err, shared.ErrAdminNotAuthorized)
}

func TestSubmitBatch_UnknownTopic(t *testing.T) {
	env := newSubmitEnv(t, nil, nil, activeAdmin(uploaderX))

	_, err := env.handler.Handle(context.Background(), SubmitBatchCommand{
		UploaderID: uploaderX,
		TopicID:    99,
		Kind:       string(batch.SourceText),
		Text:       oneQuestionDoc,
	})
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestSubmitBatch_AsyncQueuesDraftWithoutIngest(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]candidate.Score{questionAorta: 85}}
	env := newSubmitEnv(t, scorer, nil, activeAdmin(uploaderX))
	env.handler = NewSubmitBatchHandler(
		env.store,
		newMemAdmins(activeAdmin(uploaderX)),
		newMemTopics(testTopic()),
		nil,
		candidate.NewModerator(scorer),
		env.ids,
		env.sink,
		SubmitBatchHandlerConfig{AsyncIngest: true, Clock: env.clock.Now},
	)

	res, err := env.submitText(uploaderX, threeQuestionDoc)
	require.NoError(t, err)

	// The submission only records the draft; extraction and scoring are
	// left to the background pipeline.
	assert.True(t, res.Queued)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, 0, scorer.calls)
	assert.Empty(t, env.store.candidates)

	stored := env.store.onlyBatch()
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusDraft, stored.Status)
	assert.Equal(t, 0, stored.TotalCount())

	assert.Len(t, env.store.recordsByAction(audit.ActionBatchSubmitted), 1)
	assert.Empty(t, env.store.recordsByAction(audit.ActionBatchIngested))
	assert.Empty(t, env.sink.ofType(shared.EventBatchIngested))

	requested := env.sink.ofType(shared.EventBatchIngestRequested)
	require.Len(t, requested, 1)
	event, ok := requested[0].(shared.BatchIngestRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, res.BatchID, event.AggregateID())
	assert.Equal(t, uploaderX, event.UploaderID)
	assert.Equal(t, threeQuestionDoc, event.Text)
}

func TestBatchIngestRequestedEvent_PayloadCarriesSizesNotContent(t *testing.T) {
	event := shared.NewBatchIngestRequestedEvent(
		"00000000-0000-4000-8000-000000000001", uploaderX, testTopicID,
		"pdf", "cardiology.pdf", "", []byte("%PDF-1.7 stub"),
	)

	payload := event.Payload()
	assert.Equal(t, len("%PDF-1.7 stub"), payload["content_bytes"])
	assert.NotContains(t, payload, "content")
	assert.NotContains(t, payload, "text")
}

func TestSubmitBatchCommand_Validate(t *testing.T) {
	tests := []struct {
		name string
		cmd  SubmitBatchCommand
	}{
		{name: "missing uploader", cmd: SubmitBatchCommand{TopicID: testTopicID, Kind: "text", Text: "x"}},
		{name: "missing topic", cmd: SubmitBatchCommand{UploaderID: uploaderX, Kind: "text", Text: "x"}},
		{name: "unknown kind", cmd: SubmitBatchCommand{UploaderID: uploaderX, TopicID: testTopicID, Kind: "docx", Text: "x"}},
		{name: "blank text submission", cmd: SubmitBatchCommand{UploaderID: uploaderX, TopicID: testTopicID, Kind: "text", Text: "   "}},
		{name: "empty document content", cmd: SubmitBatchCommand{UploaderID: uploaderX, TopicID: testTopicID, Kind: "pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cmd.Validate())
		})
	}
}

func TestSubmitBatch_RecognizerErrorKeepsSentinel(t *testing.T) {
	recognizer := &fakeRecognizer{err: errors.New("backend exploded")}
	env := newSubmitEnv(t, nil, recognizer, activeAdmin(uploaderX))

	_, err := env.handler.Handle(context.Background(), SubmitBatchCommand{
		UploaderID: uploaderX,
		TopicID:    testTopicID,
		Kind:       string(batch.SourcePhoto),
		Content:    []byte{0xFF, 0xD8},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recognize document")
}
