package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

type ingestEnv struct {
	store   *memStore
	ids     *seqIDs
	clock   *testClock
	sink    *eventSink
	handler *IngestBatchHandler
}

func newIngestEnv(t *testing.T, scorer *fakeScorer, recognizer *fakeRecognizer) *ingestEnv {
	t.Helper()

	env := &ingestEnv{
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

	env.handler = NewIngestBatchHandler(
		env.store,
		newMemTopics(testTopic()),
		rec,
		candidate.NewModerator(port),
		env.ids,
		env.sink,
		IngestBatchHandlerConfig{Clock: env.clock.Now},
	)
	return env
}

func (e *ingestEnv) ingestText(t *testing.T, batchID shared.BatchID, text string) *IngestBatchResult {
	t.Helper()

	res, err := e.handler.Handle(context.Background(), IngestBatchCommand{
		BatchID: batchID.String(),
		Kind:    string(batch.SourceText),
		Text:    text,
	})
	require.NoError(t, err)
	return res
}

func TestIngestBatch_CompletesDeferredDraft(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]candidate.Score{
		questionAorta:  85,
		questionMitral: 60,
		questionLungs:  20,
	}}
	env := newIngestEnv(t, scorer, nil)
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 0)

	res := env.ingestText(t, b.ID, threeQuestionDoc)

	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Pending)
	assert.Equal(t, 1, res.Flagged)
	assert.Equal(t, 1, res.AutoRejected)

	stored := env.store.batchByID(b.ID)
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusDraft, stored.Status)
	assert.Equal(t, 2, stored.PendingCount)
	assert.Equal(t, 1, stored.RejectedCount)
	assert.Len(t, env.store.candidates, 3)

	assert.Len(t, env.store.recordsByAction(audit.ActionBatchIngested), 1)

	ingested := env.sink.ofType(shared.EventBatchIngested)
	require.Len(t, ingested, 1)
	event, ok := ingested[0].(shared.BatchIngestedEvent)
	require.True(t, ok)
	assert.Equal(t, uploaderX, event.UploaderID)
	assert.Equal(t, 3, event.CandidateRows)
}

func TestIngestBatch_RedeliveredEventIsANoOp(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]candidate.Score{
		questionAorta: 85,
	}}
	env := newIngestEnv(t, scorer, nil)
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 0)

	first := env.ingestText(t, b.ID, oneQuestionDoc)
	require.False(t, first.Skipped)
	require.Len(t, env.store.candidates, 1)

	// The same event delivered twice must not ingest twice: the batch
	// has already left the draft-without-candidates state.
	second := env.ingestText(t, b.ID, oneQuestionDoc)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.Total)
	assert.Len(t, env.store.candidates, 1)
	assert.Equal(t, 1, scorer.calls)
}

func TestIngestBatch_ClosedBatchIsSkipped(t *testing.T) {
	env := newIngestEnv(t, nil, nil)
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 0)

	abandoned := env.store.batchByID(b.ID)
	require.NoError(t, abandoned.Abandon(testStart))
	env.store.addBatch(abandoned)

	res := env.ingestText(t, b.ID, oneQuestionDoc)
	assert.True(t, res.Skipped)
	assert.Empty(t, env.store.candidates)
	assert.Empty(t, env.sink.events)
}

func TestIngestBatch_EmptyDocumentAbandonsDraft(t *testing.T) {
	env := newIngestEnv(t, nil, nil)
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 0)

	res := env.ingestText(t, b.ID, "Lecture notes without any quiz material.")

	assert.True(t, res.IngestFailed)
	assert.Equal(t, "document produced no parseable candidates", res.FailureReason)

	stored := env.store.batchByID(b.ID)
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusAbandoned, stored.Status)

	abandonedRecs := env.store.recordsByAction(audit.ActionBatchAbandoned)
	require.Len(t, abandonedRecs, 1)
	assert.True(t, abandonedRecs[0].IsSystem())

	failed := env.sink.ofType(shared.EventBatchIngestFailed)
	require.Len(t, failed, 1)
}

func TestIngestBatch_RecognizerFailureAbandonsDraft(t *testing.T) {
	recognizer := &fakeRecognizer{err: shared.ErrOCRUnavailable}
	env := newIngestEnv(t, nil, recognizer)
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 0)

	res, err := env.handler.Handle(context.Background(), IngestBatchCommand{
		BatchID: b.ID.String(),
		Kind:    string(batch.SourcePDF),
		Content: []byte("%PDF-1.7 stub"),
	})
	require.NoError(t, err)

	// Unlike the synchronous path there is no uploader to re-prompt: the
	// recorded draft must not linger in the queue, so it is abandoned.
	assert.True(t, res.IngestFailed)
	assert.Contains(t, res.FailureReason, "recognize document")

	stored := env.store.batchByID(b.ID)
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusAbandoned, stored.Status)

	failed := env.sink.ofType(shared.EventBatchIngestFailed)
	require.Len(t, failed, 1)
	event, ok := failed[0].(shared.BatchIngestFailedEvent)
	require.True(t, ok)
	assert.Equal(t, uploaderX, event.UploaderID)
}

func TestIngestBatch_UnknownBatch(t *testing.T) {
	env := newIngestEnv(t, nil, nil)

	_, err := env.handler.Handle(context.Background(), IngestBatchCommand{
		BatchID: "00000000-0000-4000-8000-000000000099",
		Kind:    string(batch.SourceText),
		Text:    oneQuestionDoc,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrBatchNotFound)
}

func TestIngestBatchCommand_Validate(t *testing.T) {
	assert.Error(t, IngestBatchCommand{Kind: "text", Text: "x"}.Validate())
	assert.Error(t, IngestBatchCommand{BatchID: "b", Kind: "docx"}.Validate())
	assert.NoError(t, IngestBatchCommand{BatchID: "b", Kind: "text", Text: "x"}.Validate())
}
