package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

const (
	reviewerA int64 = 500100
	reviewerB int64 = 500200
	uploaderX int64 = 500300
)

type lockEnv struct {
	store   *memStore
	ids     *seqIDs
	clock   *testClock
	sink    *eventSink
	handler *AcquireLockHandler
}

func newLockEnv(t *testing.T, admins ...*admin.Admin) *lockEnv {
	t.Helper()

	env := &lockEnv{
		store: newMemStore(),
		ids:   &seqIDs{},
		clock: newTestClock(),
		sink:  &eventSink{},
	}
	env.handler = NewAcquireLockHandler(
		env.store,
		newMemAdmins(admins...),
		newMemTopics(testTopic()),
		env.sink,
		AcquireLockHandlerConfig{Clock: env.clock.Now},
	)
	return env
}

func (e *lockEnv) acquire(adminID int64, batchID shared.BatchID) (*AcquireLockResult, error) {
	return e.handler.Handle(context.Background(), AcquireLockCommand{
		BatchID: batchID.String(),
		AdminID: adminID,
	})
}

func TestAcquireLock_ClaimsDraftBatch(t *testing.T) {
	env := newLockEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)

	res, err := env.acquire(reviewerA, b.ID)
	require.NoError(t, err)

	assert.False(t, res.Refreshed)
	assert.False(t, res.Reclaimed)
	assert.Equal(t, testStart.Add(batch.DefaultLeaseTTL), res.ExpiresAt)
	assert.Equal(t, 2, res.PendingCount)

	stored := env.store.batchByID(b.ID)
	assert.Equal(t, batch.StatusLocked, stored.Status)

	holder, held := stored.HolderAt(env.clock.Now(), batch.DefaultLeaseTTL)
	assert.True(t, held)
	assert.Equal(t, shared.TelegramID(reviewerA), holder)

	records := env.store.recordsByAction(audit.ActionLockAcquired)
	require.Len(t, records, 1)
	assert.Equal(t, reviewerA, records[0].ActorID)
	assert.Equal(t, "", records[0].OldValue)
	assert.Equal(t, "500100", records[0].NewValue)

	assert.Len(t, env.sink.ofType(shared.EventBatchLocked), 1)
	assert.Equal(t, 1, env.store.commits)
}

func TestAcquireLock_RefreshByHolderIsIdempotent(t *testing.T) {
	env := newLockEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 3)

	_, err := env.acquire(reviewerA, b.ID)
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)

	res, err := env.acquire(reviewerA, b.ID)
	require.NoError(t, err)

	assert.True(t, res.Refreshed)
	assert.False(t, res.Reclaimed)
	assert.Equal(t, env.clock.Now().Add(batch.DefaultLeaseTTL), res.ExpiresAt)

	assert.Len(t, env.store.recordsByAction(audit.ActionLockAcquired), 1)

	refreshes := env.store.recordsByAction(audit.ActionLockRefreshed)
	require.Len(t, refreshes, 1)
	assert.Equal(t, "500100", refreshes[0].OldValue)
	assert.Equal(t, "500100", refreshes[0].NewValue)

	assert.Empty(t, env.store.recordsByAction(audit.ActionLeaseReclaimed))
}

func TestAcquireLock_ConflictWhileLeaseHeld(t *testing.T) {
	env := newLockEnv(t, activeAdmin(reviewerA), activeAdmin(reviewerB))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)

	_, err := env.acquire(reviewerA, b.ID)
	require.NoError(t, err)

	env.clock.Advance(batch.DefaultLeaseTTL - time.Second)

	_, err = env.acquire(reviewerB, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrLockConflict)
	assert.True(t, shared.IsLockConflict(err))

	// The failed claim leaves no trace: holder, audit and commit count
	// are those of the first claim.
	holder, held := env.store.batchByID(b.ID).HolderAt(env.clock.Now(), batch.DefaultLeaseTTL)
	assert.True(t, held)
	assert.Equal(t, shared.TelegramID(reviewerA), holder)
	assert.Len(t, env.store.recordsByAction(audit.ActionLockAcquired), 1)
	assert.Equal(t, 1, env.store.commits)
}

func TestAcquireLock_TakeoverAfterExpiry(t *testing.T) {
	env := newLockEnv(t, activeAdmin(reviewerA), activeAdmin(reviewerB))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)

	_, err := env.acquire(reviewerA, b.ID)
	require.NoError(t, err)

	// A lease is expired exactly at acquisition time plus the TTL.
	env.clock.Advance(batch.DefaultLeaseTTL)

	res, err := env.acquire(reviewerB, b.ID)
	require.NoError(t, err)

	assert.True(t, res.Reclaimed)
	assert.Equal(t, reviewerA, res.PreviousHolder)
	assert.False(t, res.Refreshed)

	holder, held := env.store.batchByID(b.ID).HolderAt(env.clock.Now(), batch.DefaultLeaseTTL)
	assert.True(t, held)
	assert.Equal(t, shared.TelegramID(reviewerB), holder)

	// The takeover commits two records: the reclaim on behalf of the
	// system and the claim on behalf of the new holder.
	reclaims := env.store.recordsByAction(audit.ActionLeaseReclaimed)
	require.Len(t, reclaims, 1)
	assert.True(t, reclaims[0].IsSystem())
	assert.Equal(t, "500100", reclaims[0].OldValue)
	assert.Equal(t, "", reclaims[0].NewValue)

	acquired := env.store.recordsByAction(audit.ActionLockAcquired)
	require.Len(t, acquired, 2)
	assert.Equal(t, reviewerB, acquired[1].ActorID)
	assert.Equal(t, "", acquired[1].OldValue)
	assert.Equal(t, "500200", acquired[1].NewValue)

	assert.Len(t, env.sink.ofType(shared.EventLeaseReclaimed), 1)
	assert.Len(t, env.sink.ofType(shared.EventBatchLocked), 2)
}

func TestAcquireLock_TerminalBatch(t *testing.T) {
	env := newLockEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 0)

	stored := env.store.batchByID(b.ID)
	require.NoError(t, stored.Abandon(testStart))
	env.store.addBatch(stored)

	_, err := env.acquire(reviewerA, b.ID)
	assert.ErrorIs(t, err, batch.ErrTerminal)
}

func TestAcquireLock_BatchNotFound(t *testing.T) {
	env := newLockEnv(t, activeAdmin(reviewerA))

	_, err := env.acquire(reviewerA, shared.BatchID("7b6a1f9c-1111-4222-8333-444455556666"))
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrBatchNotFound)
	assert.True(t, shared.IsNotFound(err))
}

func TestAcquireLock_Authorization(t *testing.T) {
	inactive := activeAdmin(reviewerB)
	inactive.IsActive = false

	student := activeAdmin(600700)
	student.Role = shared.RoleStudent

	env := newLockEnv(t, inactive, student)
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 1)

	tests := []struct {
		name    string
		adminID int64
	}{
		{name: "unknown admin", adminID: 999999},
		{name: "inactive admin", adminID: reviewerB},
		{name: "student role", adminID: 600700},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.acquire(tt.adminID, b.ID)
			assert.ErrorIs(t, err, shared.ErrAdminNotAuthorized)
		})
	}
}

func TestAcquireLock_ScopeViolation(t *testing.T) {
	// The test topic belongs to university 1, course 1.
	outside := scopedAdmin(reviewerA, 2, 0)
	inside := scopedAdmin(reviewerB, 1, 1)

	env := newLockEnv(t, outside, inside)
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 1)

	_, err := env.acquire(reviewerA, b.ID)
	assert.ErrorIs(t, err, shared.ErrScopeViolation)

	res, err := env.acquire(reviewerB, b.ID)
	require.NoError(t, err)
	assert.False(t, res.Refreshed)
}

func TestAcquireLockCommand_Validate(t *testing.T) {
	tests := []struct {
		name string
		cmd  AcquireLockCommand
	}{
		{name: "empty batch id", cmd: AcquireLockCommand{AdminID: reviewerA}},
		{name: "missing admin id", cmd: AcquireLockCommand{BatchID: "7b6a1f9c-1111-4222-8333-444455556666"}},
		{name: "negative admin id", cmd: AcquireLockCommand{BatchID: "7b6a1f9c-1111-4222-8333-444455556666", AdminID: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cmd.Validate())
		})
	}
}

func TestAcquireLock_RejectsMalformedBatchID(t *testing.T) {
	env := newLockEnv(t, activeAdmin(reviewerA))

	_, err := env.handler.Handle(context.Background(), AcquireLockCommand{
		BatchID: "not-a-uuid",
		AdminID: reviewerA,
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrAdminNotAuthorized))
}
