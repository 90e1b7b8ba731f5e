package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

type decideEnv struct {
	store   *memStore
	ids     *seqIDs
	clock   *testClock
	sink    *eventSink
	handler *DecideCandidateHandler
}

func newDecideEnv(t *testing.T, admins ...*admin.Admin) *decideEnv {
	t.Helper()

	env := &decideEnv{
		store: newMemStore(),
		ids:   &seqIDs{},
		clock: newTestClock(),
		sink:  &eventSink{},
	}
	env.handler = NewDecideCandidateHandler(
		env.store,
		newMemAdmins(admins...),
		env.sink,
		DecideCandidateHandlerConfig{Clock: env.clock.Now},
	)
	return env
}

func (e *decideEnv) decide(adminID int64, candidateID shared.CandidateID, verdict string) (*DecideCandidateResult, error) {
	return e.handler.Handle(context.Background(), DecideCandidateCommand{
		CandidateID: candidateID.String(),
		AdminID:     adminID,
		Verdict:     verdict,
	})
}

func TestDecideCandidate_ApprovePendingCandidate(t *testing.T) {
	env := newDecideEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)
	c1 := seedPendingCandidate(t, env.store, env.ids, b)
	seedPendingCandidate(t, env.store, env.ids, b)
	lockBatch(t, env.store, b.ID, reviewerA)

	res, err := env.decide(reviewerA, c1, string(candidate.VerdictAccept))
	require.NoError(t, err)

	assert.Equal(t, string(candidate.StateApproved), res.State)
	assert.Equal(t, 1, res.PendingLeft)
	assert.False(t, res.BatchCompleted)

	decided := env.store.candidateByID(c1)
	assert.Equal(t, candidate.StateApproved, decided.State)
	assert.Equal(t, shared.TelegramID(reviewerA), decided.ReviewedBy)
	assert.Equal(t, testStart, decided.DecidedAt)

	stored := env.store.batchByID(b.ID)
	assert.Equal(t, batch.StatusInReview, stored.Status)
	assert.Equal(t, 1, stored.PendingCount)
	assert.Equal(t, 1, stored.ApprovedCount)

	records := env.store.recordsByAction(audit.ActionDecision)
	require.Len(t, records, 1)
	assert.Equal(t, c1.String(), records[0].TargetID)
	assert.Equal(t, "pending", records[0].OldValue)
	assert.Equal(t, "approved", records[0].NewValue)
	assert.Equal(t, reviewerA, records[0].ActorID)

	assert.Len(t, env.sink.ofType(shared.EventCandidateDecided), 1)
	assert.Empty(t, env.sink.ofType(shared.EventBatchCompleted))
}

func TestDecideCandidate_LastDecisionCompletesBatch(t *testing.T) {
	env := newDecideEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 1)
	c1 := seedPendingCandidate(t, env.store, env.ids, b)
	lockBatch(t, env.store, b.ID, reviewerA)

	res, err := env.decide(reviewerA, c1, string(candidate.VerdictReject))
	require.NoError(t, err)

	assert.Equal(t, string(candidate.StateRejected), res.State)
	assert.Equal(t, 0, res.PendingLeft)
	assert.True(t, res.BatchCompleted)

	stored := env.store.batchByID(b.ID)
	assert.Equal(t, batch.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.RejectedCount)

	// Completion releases the lease in the same mutation.
	_, held := stored.HolderAt(env.clock.Now(), batch.DefaultLeaseTTL)
	assert.False(t, held)

	completions := env.store.recordsByAction(audit.ActionBatchCompleted)
	require.Len(t, completions, 1)
	assert.Equal(t, string(batch.StatusInReview), completions[0].OldValue)
	assert.Equal(t, string(batch.StatusCompleted), completions[0].NewValue)

	events := env.sink.ofType(shared.EventBatchCompleted)
	require.Len(t, events, 1)
	completed, ok := events[0].(shared.BatchCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, 0, completed.Approved)
	assert.Equal(t, 1, completed.Rejected)
}

func TestDecideCandidate_ConcurrentDecisionLosesCleanly(t *testing.T) {
	env := newDecideEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 2)
	c1 := seedPendingCandidate(t, env.store, env.ids, b)
	seedPendingCandidate(t, env.store, env.ids, b)
	lockBatch(t, env.store, b.ID, reviewerA)

	_, err := env.decide(reviewerA, c1, string(candidate.VerdictAccept))
	require.NoError(t, err)

	// The second decision on the same candidate loses the conditional
	// update and backs out without touching batch or audit log.
	_, err = env.decide(reviewerA, c1, string(candidate.VerdictReject))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCandidateDecided)
	assert.True(t, shared.IsDecisionConflict(err))

	decided := env.store.candidateByID(c1)
	assert.Equal(t, candidate.StateApproved, decided.State)

	stored := env.store.batchByID(b.ID)
	assert.Equal(t, 1, stored.PendingCount)
	assert.Equal(t, 1, stored.ApprovedCount)
	assert.Equal(t, 0, stored.RejectedCount)

	assert.Len(t, env.store.recordsByAction(audit.ActionDecision), 1)
	assert.Equal(t, 1, env.store.commits)
}

func TestDecideCandidate_RequiresHeldLease(t *testing.T) {
	env := newDecideEnv(t, activeAdmin(reviewerA), activeAdmin(reviewerB))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 1)
	c1 := seedPendingCandidate(t, env.store, env.ids, b)

	// No lease at all.
	_, err := env.decide(reviewerA, c1, string(candidate.VerdictAccept))
	assert.ErrorIs(t, err, batch.ErrNotOwner)

	// A lease held by someone else.
	lockBatch(t, env.store, b.ID, reviewerA)
	_, err = env.decide(reviewerB, c1, string(candidate.VerdictAccept))
	assert.ErrorIs(t, err, batch.ErrNotOwner)

	assert.Equal(t, candidate.StatePending, env.store.candidateByID(c1).State)
	assert.Equal(t, 0, env.store.commits)
}

func TestDecideCandidate_ExpiredLease(t *testing.T) {
	env := newDecideEnv(t, activeAdmin(reviewerA))
	b := seedDraftBatch(t, env.store, env.ids, uploaderX, testTopicID, 1)
	c1 := seedPendingCandidate(t, env.store, env.ids, b)
	lockBatch(t, env.store, b.ID, reviewerA)

	env.clock.Advance(batch.DefaultLeaseTTL)

	_, err := env.decide(reviewerA, c1, string(candidate.VerdictAccept))
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrNotOwner)

	assert.Equal(t, candidate.StatePending, env.store.candidateByID(c1).State)
	assert.Equal(t, 0, env.store.commits)
}

func TestDecideCandidate_UnknownCandidate(t *testing.T) {
	env := newDecideEnv(t, activeAdmin(reviewerA))

	_, err := env.decide(reviewerA, shared.CandidateID("9c8b7a65-4321-4def-8abc-000011112222"), string(candidate.VerdictAccept))
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestDecideCandidateCommand_Validate(t *testing.T) {
	const id = "9c8b7a65-4321-4def-8abc-000011112222"

	tests := []struct {
		name string
		cmd  DecideCandidateCommand
	}{
		{name: "empty candidate id", cmd: DecideCandidateCommand{AdminID: reviewerA, Verdict: "accept"}},
		{name: "missing admin id", cmd: DecideCandidateCommand{CandidateID: id, Verdict: "accept"}},
		{name: "flag is not terminal", cmd: DecideCandidateCommand{CandidateID: id, AdminID: reviewerA, Verdict: "flag"}},
		{name: "empty verdict", cmd: DecideCandidateCommand{CandidateID: id, AdminID: reviewerA}},
		{name: "unknown verdict", cmd: DecideCandidateCommand{CandidateID: id, AdminID: reviewerA, Verdict: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cmd.Validate())
		})
	}
}
