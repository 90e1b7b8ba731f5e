package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

type releaseEnv struct {
	store   *memStore
	ids     *seqIDs
	clock   *testClock
	sink    *eventSink
	handler *ReleaseLockHandler
}

func newReleaseEnv(t *testing.T, admins ...*admin.Admin) *releaseEnv {
	t.Helper()

	env := &releaseEnv{
		store: newMemStore(),
		ids:   &seqIDs{},
		clock: newTestClock(),
		sink:  &eventSink{},
	}
	env.handler = NewReleaseLockHandler(
		env.store,
		newMemAdmins(admins...),
		env.sink,
		ReleaseLockHandlerConfig{Clock: env.clock.Now},
	)
	return env
}

func (e *releaseEnv) release(adminID int64, batchID shared.BatchID) (*ReleaseLockResult, error) {
	return e.handler.Handle(context.Background(), ReleaseLockCommand{
		BatchID: batchID.String(),
		AdminID: adminID,
	})
}

func TestReleaseLock_ReturnsBatchToQueue(t *testing.T) {
	env := newReleaseEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)
	lockBatch(t, env.store, b.ID, reviewerA)

	res, err := env.release(reviewerA, b.ID)
	require.NoError(t, err)

	assert.False(t, res.Completed)
	assert.Equal(t, 2, res.PendingLeft)

	stored := env.store.batchByID(b.ID)
	assert.Equal(t, batch.StatusDraft, stored.Status)

	_, held := stored.HolderAt(env.clock.Now(), batch.DefaultLeaseTTL)
	assert.False(t, held)

	records := env.store.recordsByAction(audit.ActionLockReleased)
	require.Len(t, records, 1)
	assert.Equal(t, reviewerA, records[0].ActorID)
	assert.Equal(t, "500100", records[0].OldValue)
	assert.Equal(t, "", records[0].NewValue)

	assert.Len(t, env.sink.ofType(shared.EventBatchReleased), 1)
	assert.Empty(t, env.sink.ofType(shared.EventBatchCompleted))
}

func TestReleaseLock_CompletesWhenNothingPending(t *testing.T) {
	env := newReleaseEnv(t, activeAdmin(reviewerA))

	// A batch whose candidates were all decided under an earlier lease.
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 0)
	stored := env.store.batchByID(b.ID)
	stored.ApprovedCount = 2
	stored.RejectedCount = 1
	env.store.addBatch(stored)
	lockBatch(t, env.store, b.ID, reviewerA)

	res, err := env.release(reviewerA, b.ID)
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 0, res.PendingLeft)

	final := env.store.batchByID(b.ID)
	assert.Equal(t, batch.StatusCompleted, final.Status)
	assert.Equal(t, testStart, final.CompletedAt)

	completions := env.store.recordsByAction(audit.ActionBatchCompleted)
	require.Len(t, completions, 1)
	assert.Equal(t, string(batch.StatusLocked), completions[0].OldValue)
	assert.Equal(t, string(batch.StatusCompleted), completions[0].NewValue)
	assert.Equal(t, reviewerA, completions[0].ActorID)

	events := env.sink.ofType(shared.EventBatchCompleted)
	require.Len(t, events, 1)
	completed, ok := events[0].(shared.BatchCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, uploaderX, completed.UploaderID)
	assert.Equal(t, reviewerA, completed.ReviewerID)
	assert.Equal(t, 2, completed.Approved)
	assert.Equal(t, 1, completed.Rejected)
}

func TestReleaseLock_NotOwner(t *testing.T) {
	env := newReleaseEnv(t, activeAdmin(reviewerA), activeAdmin(reviewerB))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)
	lockBatch(t, env.store, b.ID, reviewerA)

	_, err := env.release(reviewerB, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrNotOwner)
	assert.True(t, shared.IsNotOwner(err))

	// The failed release changes nothing.
	holder, held := env.store.batchByID(b.ID).HolderAt(env.clock.Now(), batch.DefaultLeaseTTL)
	assert.True(t, held)
	assert.Equal(t, shared.TelegramID(reviewerA), holder)
	assert.Empty(t, env.store.recordsByAction(audit.ActionLockReleased))
	assert.Equal(t, 0, env.store.commits)
}

func TestReleaseLock_ExpiredLeaseIsNoLongerOwned(t *testing.T) {
	env := newReleaseEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)
	lockBatch(t, env.store, b.ID, reviewerA)

	env.clock.Advance(batch.DefaultLeaseTTL)

	_, err := env.release(reviewerA, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrNotOwner)
	assert.Equal(t, 0, env.store.commits)
}

func TestReleaseLock_UnlockedBatch(t *testing.T) {
	env := newReleaseEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)

	_, err := env.release(reviewerA, b.ID)
	assert.ErrorIs(t, err, batch.ErrNotOwner)
}
