package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

var (
	testAt    = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	testAdmin = shared.Actor{ID: 200, Role: shared.RoleAdmin}
)

func TestNewRecord(t *testing.T) {
	r, err := NewRecord(NewRecordParams{
		TargetKind: TargetCandidate,
		TargetID:   "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
		Action:     ActionDecision,
		Field:      FieldState,
		OldValue:   "pending",
		NewValue:   "approved",
		Actor:      testAdmin,
		OccurredAt: testAt,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), r.ID)
	assert.Equal(t, testAt, r.CreatedAt)
	assert.Equal(t, int64(200), r.ActorID)
	assert.Equal(t, shared.RoleAdmin, r.ActorRole)
	assert.Equal(t, testAdmin, r.Actor())
	assert.False(t, r.IsSystem())
}

func TestNewRecord_Validation(t *testing.T) {
	valid := NewRecordParams{
		TargetKind: TargetBatch,
		TargetID:   "6f1e8f0a-2b3c-4d5e-8f9a-0b1c2d3e4f5a",
		Action:     ActionLockAcquired,
		Field:      FieldLockHolder,
		Actor:      testAdmin,
		OccurredAt: testAt,
	}

	badKind := valid
	badKind.TargetKind = TargetKind("invoice")
	_, err := NewRecord(badKind)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	emptyTarget := valid
	emptyTarget.TargetID = ""
	_, err = NewRecord(emptyTarget)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	badAction := valid
	badAction.Action = Action("vacuumed")
	_, err = NewRecord(badAction)
	assert.ErrorIs(t, err, ErrInvalidAction)

	noField := valid
	noField.Field = ""
	_, err = NewRecord(noField)
	assert.Error(t, err)

	badActor := valid
	badActor.Actor = shared.Actor{ID: 0, Role: shared.RoleAdmin}
	_, err = NewRecord(badActor)
	assert.ErrorIs(t, err, ErrInvalidActor)
}

func TestNewRecord_SystemActor(t *testing.T) {
	r, err := NewRecord(NewRecordParams{
		TargetKind: TargetCandidate,
		TargetID:   "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
		Action:     ActionAutoReject,
		Field:      FieldState,
		OldValue:   "pending",
		NewValue:   "rejected",
		Actor:      shared.SystemActor(),
		OccurredAt: testAt,
	})
	require.NoError(t, err)

	assert.True(t, r.IsSystem())
	assert.Equal(t, int64(0), r.ActorID)
}

func TestNewRecord_DefaultsTimestamp(t *testing.T) {
	r, err := NewRecord(NewRecordParams{
		TargetKind: TargetBatch,
		TargetID:   "6f1e8f0a-2b3c-4d5e-8f9a-0b1c2d3e4f5a",
		Action:     ActionBatchSubmitted,
		Field:      FieldStatus,
		NewValue:   "draft",
		Actor:      testAdmin,
	})
	require.NoError(t, err)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestLockHolderRecord(t *testing.T) {
	r, err := LockHolderRecord("6f1e8f0a-2b3c-4d5e-8f9a-0b1c2d3e4f5a",
		ActionLeaseReclaimed, 200, 0, testAdmin, testAt)
	require.NoError(t, err)

	assert.Equal(t, FieldLockHolder, r.Field)
	assert.Equal(t, "200", r.OldValue)
	assert.Equal(t, "", r.NewValue)
}

func TestModerationNoticeRecord(t *testing.T) {
	r, err := ModerationNoticeRecord("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
		"scorer timeout", testAt)
	require.NoError(t, err)

	assert.Equal(t, ActionModerationDegraded, r.Action)
	assert.Equal(t, "external", r.OldValue)
	assert.Equal(t, "heuristic: scorer timeout", r.NewValue)
	assert.True(t, r.IsSystem())
}

func TestCandidateStateRecord(t *testing.T) {
	r, err := CandidateStateRecord("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
		ActionDecision, "pending", "rejected", testAdmin, testAt)
	require.NoError(t, err)

	assert.Equal(t, TargetCandidate, r.TargetKind)
	assert.Equal(t, "pending", r.OldValue)
	assert.Equal(t, "rejected", r.NewValue)
}
