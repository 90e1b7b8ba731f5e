package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

const testBatchUUID = "6f1e8f0a-2b3c-4d5e-8f9a-0b1c2d3e4f5a"

var testBase = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestBatch(t *testing.T) *UploadBatch {
	t.Helper()

	b, err := NewBatch(NewBatchParams{
		ID:         shared.BatchID(testBatchUUID),
		UploaderID: shared.TelegramID(100),
		TopicID:    shared.TopicID(7),
		SourceKind: SourceText,
	})
	require.NoError(t, err)

	b.PendingCount = 3
	return b
}

func TestNewBatch_Validation(t *testing.T) {
	valid := NewBatchParams{
		ID:         shared.BatchID(testBatchUUID),
		UploaderID: shared.TelegramID(100),
		TopicID:    shared.TopicID(7),
		SourceKind: SourcePDF,
		SourceRef:  "BQACAgIAAxkBAAIB",
	}

	b, err := NewBatch(valid)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, b.Status)
	assert.False(t, b.Lease.IsHeld())
	assert.Equal(t, 0, b.TotalCount())
	assert.False(t, b.CreatedAt.IsZero())

	missingID := valid
	missingID.ID = ""
	_, err = NewBatch(missingID)
	assert.Error(t, err)

	badID := valid
	badID.ID = "not-a-uuid"
	_, err = NewBatch(badID)
	assert.Error(t, err)

	missingUploader := valid
	missingUploader.UploaderID = 0
	_, err = NewBatch(missingUploader)
	assert.Error(t, err)

	missingTopic := valid
	missingTopic.TopicID = 0
	_, err = NewBatch(missingTopic)
	assert.Error(t, err)

	badKind := valid
	badKind.SourceKind = SourceKind("docx")
	_, err = NewBatch(badKind)
	assert.ErrorIs(t, err, ErrInvalidSourceKind)
}

func TestSourceKind_NeedsOCR(t *testing.T) {
	assert.False(t, SourceText.NeedsOCR())
	assert.True(t, SourcePDF.NeedsOCR())
	assert.True(t, SourcePhoto.NeedsOCR())
}

func TestStatus_Predicates(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusAbandoned.IsTerminal())
	assert.False(t, StatusDraft.IsTerminal())

	assert.True(t, StatusLocked.IsLockedState())
	assert.True(t, StatusInReview.IsLockedState())
	assert.False(t, StatusDraft.IsLockedState())

	assert.False(t, Status("frozen").IsValid())
}

func TestLease_Expiry(t *testing.T) {
	lease := Lease{HolderID: 100, AcquiredAt: testBase}

	assert.False(t, lease.IsExpiredAt(testBase.Add(DefaultLeaseTTL-time.Second), DefaultLeaseTTL))
	assert.True(t, lease.IsExpiredAt(testBase.Add(DefaultLeaseTTL), DefaultLeaseTTL))
	assert.True(t, lease.IsExpiredAt(testBase.Add(time.Hour), DefaultLeaseTTL))

	// Нулевая аренда не истекает.
	assert.False(t, Lease{}.IsExpiredAt(testBase.Add(time.Hour), DefaultLeaseTTL))

	assert.Equal(t, 5*time.Minute, lease.RemainingAt(testBase.Add(10*time.Minute), DefaultLeaseTTL))
	assert.Equal(t, time.Duration(0), lease.RemainingAt(testBase.Add(time.Hour), DefaultLeaseTTL))
}

func TestAcquireLock_Fresh(t *testing.T) {
	b := newTestBatch(t)

	refreshed, reclaimed, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Nil(t, reclaimed)

	assert.Equal(t, StatusLocked, b.Status)
	assert.True(t, b.Lease.IsHeldBy(200))
	assert.Equal(t, testBase, b.Lease.AcquiredAt)
}

func TestAcquireLock_ConflictKeepsHolder(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	// Второй администратор до истечения срока получает отказ,
	// держатель не меняется.
	_, _, err = b.AcquireLock(300, testBase.Add(5*time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrLockConflict)
	assert.True(t, b.Lease.IsHeldBy(200))
	assert.Equal(t, StatusLocked, b.Status)
}

func TestAcquireLock_IdempotentRefresh(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	later := testBase.Add(10 * time.Minute)
	refreshed, reclaimed, err := b.AcquireLock(200, later, DefaultLeaseTTL)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Nil(t, reclaimed)
	assert.Equal(t, later, b.Lease.AcquiredAt)
	assert.True(t, b.Lease.IsHeldBy(200))
}

func TestAcquireLock_TakeoverAfterExpiry(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	// До истечения срока - конфликт.
	_, _, err = b.AcquireLock(300, testBase.Add(14*time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrLockConflict)

	// После истечения тот же вызов снимает старую аренду и захватывает новую.
	afterExpiry := testBase.Add(16 * time.Minute)
	refreshed, reclaimed, err := b.AcquireLock(300, afterExpiry, DefaultLeaseTTL)
	require.NoError(t, err)
	assert.False(t, refreshed)
	require.NotNil(t, reclaimed)
	assert.Equal(t, shared.TelegramID(200), reclaimed.PreviousHolder)
	assert.Equal(t, testBase, reclaimed.AcquiredAt)

	assert.True(t, b.Lease.IsHeldBy(300))
	assert.Equal(t, afterExpiry, b.Lease.AcquiredAt)
}

func TestAcquireLock_Terminal(t *testing.T) {
	b := newTestBatch(t)
	b.Status = StatusAbandoned

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestReleaseLock_WithPendingReturnsToDraft(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	_, err = b.ReleaseLock(200, testBase.Add(time.Minute), DefaultLeaseTTL)
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, b.Status)
	assert.False(t, b.Lease.IsHeld())
}

func TestReleaseLock_NoPendingCompletes(t *testing.T) {
	b := newTestBatch(t)
	b.PendingCount = 0
	b.ApprovedCount = 3

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	now := testBase.Add(time.Minute)
	_, err = b.ReleaseLock(200, now, DefaultLeaseTTL)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, b.Status)
	assert.Equal(t, now, b.CompletedAt)
	assert.False(t, b.Lease.IsHeld())
}

func TestReleaseLock_NotOwner(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	_, err = b.ReleaseLock(300, testBase.Add(time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.True(t, b.Lease.IsHeldBy(200))
}

func TestReleaseLock_ExpiredOwnLease(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	// Истёкшая аренда снимается лениво; бывший держатель больше не владелец.
	reclaimed, err := b.ReleaseLock(200, testBase.Add(20*time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrNotOwner)
	require.NotNil(t, reclaimed)
	assert.Equal(t, shared.TelegramID(200), reclaimed.PreviousHolder)
	assert.Equal(t, StatusDraft, b.Status)
}

func TestRecordDecision_CountersAndStatus(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	completed, _, err := b.RecordDecision(200, true, testBase.Add(time.Minute), DefaultLeaseTTL)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, StatusInReview, b.Status)
	assert.Equal(t, 2, b.PendingCount)
	assert.Equal(t, 1, b.ApprovedCount)

	completed, _, err = b.RecordDecision(200, false, testBase.Add(2*time.Minute), DefaultLeaseTTL)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, 1, b.RejectedCount)
}

func TestRecordDecision_LastDecisionCompletes(t *testing.T) {
	b := newTestBatch(t)
	b.PendingCount = 1

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	now := testBase.Add(time.Minute)
	completed, _, err := b.RecordDecision(200, true, now, DefaultLeaseTTL)
	require.NoError(t, err)

	// Решение по последнему кандидату завершает партию и снимает аренду
	// одной операцией.
	assert.True(t, completed)
	assert.Equal(t, StatusCompleted, b.Status)
	assert.Equal(t, 0, b.PendingCount)
	assert.False(t, b.Lease.IsHeld())
	assert.Equal(t, now, b.CompletedAt)
}

func TestRecordDecision_RequiresOwnership(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	_, _, err = b.RecordDecision(300, true, testBase.Add(time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, 3, b.PendingCount)

	// После истечения срока даже бывший держатель теряет право решать.
	_, _, err = b.RecordDecision(200, true, testBase.Add(30*time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestRecordDecision_NoPending(t *testing.T) {
	b := newTestBatch(t)
	b.PendingCount = 0

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	_, _, err = b.RecordDecision(200, true, testBase.Add(time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestAbandon(t *testing.T) {
	b := newTestBatch(t)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	err = b.Abandon(testBase.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, b.Status)
	assert.False(t, b.Lease.IsHeld())

	// Повторное закрытие и любые захваты запрещены.
	assert.ErrorIs(t, b.Abandon(testBase.Add(2*time.Minute)), ErrTerminal)
	_, _, err = b.AcquireLock(200, testBase.Add(2*time.Minute), DefaultLeaseTTL)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestSetIngestResult(t *testing.T) {
	b := newTestBatch(t)
	b.PendingCount = 0

	completed, err := b.SetIngestResult(5, 2, true, testBase)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, 5, b.PendingCount)
	assert.Equal(t, 2, b.RejectedCount)
	assert.True(t, b.Degraded)

	// Повторная загрузка результата в ту же партию невозможна.
	b.Status = StatusInReview
	_, err = b.SetIngestResult(1, 0, false, testBase)
	assert.Error(t, err)
}

func TestSetIngestResult_AllAutoRejectedCompletes(t *testing.T) {
	b := newTestBatch(t)
	b.PendingCount = 0

	completed, err := b.SetIngestResult(0, 4, false, testBase)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, StatusCompleted, b.Status)
	assert.Equal(t, 4, b.RejectedCount)
}

func TestHolderAt(t *testing.T) {
	b := newTestBatch(t)

	_, held := b.HolderAt(testBase, DefaultLeaseTTL)
	assert.False(t, held)

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	holder, held := b.HolderAt(testBase.Add(5*time.Minute), DefaultLeaseTTL)
	assert.True(t, held)
	assert.Equal(t, shared.TelegramID(200), holder)

	// HolderAt не мутирует партию: истёкшая аренда просто не видна.
	_, held = b.HolderAt(testBase.Add(20*time.Minute), DefaultLeaseTTL)
	assert.False(t, held)
	assert.True(t, b.Lease.IsHeld())
}

func TestIsVisibleTo(t *testing.T) {
	b := newTestBatch(t)

	assert.True(t, b.IsVisibleTo(300, testBase, DefaultLeaseTTL))

	_, _, err := b.AcquireLock(200, testBase, DefaultLeaseTTL)
	require.NoError(t, err)

	now := testBase.Add(5 * time.Minute)
	assert.True(t, b.IsVisibleTo(200, now, DefaultLeaseTTL))
	assert.False(t, b.IsVisibleTo(300, now, DefaultLeaseTTL))

	// После истечения аренды партия снова видна всем.
	afterExpiry := testBase.Add(16 * time.Minute)
	assert.True(t, b.IsVisibleTo(300, afterExpiry, DefaultLeaseTTL))

	b.Status = StatusCompleted
	assert.False(t, b.IsVisibleTo(200, now, DefaultLeaseTTL))
}
