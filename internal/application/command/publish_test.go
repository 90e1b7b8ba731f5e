package command

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// brokenSink fails every publish.
type brokenSink struct {
	attempts int
}

func (s *brokenSink) Publish(_ shared.Event) error {
	s.attempts++
	return errors.New("bus is down")
}

func TestPublishEvents_FailuresAreLoggedNotSwallowed(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	sink := &brokenSink{}
	events := []shared.Event{
		shared.NewBatchSubmittedEvent("00000000-0000-4000-8000-000000000001", uploaderX, testTopicID, "text"),
		shared.NewBatchIngestedEvent("00000000-0000-4000-8000-000000000001", uploaderX, testTopicID, 3, 1, 1, false),
	}

	publishEvents(sink, log, "submit_batch", events)

	// Every event is attempted even after a failure.
	assert.Equal(t, 2, sink.attempts)

	logged := buf.String()
	assert.Contains(t, logged, "domain event dropped")
	assert.Contains(t, logged, "batch.submitted")
	assert.Contains(t, logged, "batch.ingested")
	assert.Contains(t, logged, "bus is down")
}

func TestPublishEvents_NilPublisherIsANoOp(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	publishEvents(nil, log, "submit_batch", []shared.Event{
		shared.NewBatchSubmittedEvent("00000000-0000-4000-8000-000000000001", uploaderX, testTopicID, "text"),
	})

	assert.Empty(t, buf.String())
}

func TestAcquireLock_PublishFailureDoesNotUndoCommit(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	store := newMemStore()
	ids := &seqIDs{}
	clock := newTestClock()
	sink := &brokenSink{}

	b := seedDraftBatch(t, store, ids, uploaderX, testTopicID, 2)

	handler := NewAcquireLockHandler(
		store,
		newMemAdmins(activeAdmin(700100)),
		newMemTopics(testTopic()),
		sink,
		AcquireLockHandlerConfig{Clock: clock.Now, Logger: log},
	)

	res, err := handler.Handle(context.Background(), AcquireLockCommand{
		BatchID: b.ID.String(),
		AdminID: 700100,
	})
	require.NoError(t, err)
	assert.False(t, res.Refreshed)

	// The lease transition survives the dropped notification.
	stored := store.batchByID(b.ID)
	require.NotNil(t, stored)
	assert.Equal(t, batch.StatusLocked, stored.Status)
	assert.Equal(t, 1, store.commits)

	assert.Greater(t, sink.attempts, 0)
	assert.Contains(t, buf.String(), "domain event dropped")
}
