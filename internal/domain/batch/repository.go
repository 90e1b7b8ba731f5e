package batch

import (
	"context"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// Repository defines the interface for upload batch persistence.
// This interface is implemented by the infrastructure layer.
// The domain layer has no knowledge of the actual storage mechanism.
type Repository interface {
	// Basic operations

	// Save persists a new batch.
	Save(ctx context.Context, b *UploadBatch) error

	// Update persists changes to an existing batch, including lease fields.
	Update(ctx context.Context, b *UploadBatch) error

	// GetByID returns a batch by its ID.
	GetByID(ctx context.Context, id shared.BatchID) (*UploadBatch, error)

	// GetByIDForUpdate returns a batch with a row-level lock held for the
	// duration of the surrounding transaction. Lease transitions go through
	// this read so that two admins cannot acquire the same batch at once.
	// Outside a transaction, implementations fall back to a plain read.
	GetByIDForUpdate(ctx context.Context, id shared.BatchID) (*UploadBatch, error)

	// Queue operations

	// ListReviewQueue returns non-terminal batches visible to the given admin:
	// batches the admin holds plus batches with no unexpired lease, oldest
	// created first. Lease expiry is evaluated against now and ttl inside
	// the query. A nil topicIDs slice means an unrestricted review scope;
	// a non-nil slice restricts the queue to those topics.
	ListReviewQueue(ctx context.Context, adminID shared.TelegramID, topicIDs []shared.TopicID, now time.Time, ttl time.Duration, limit, offset int) ([]*UploadBatch, error)

	// CountReviewQueue returns the size of the queue ListReviewQueue would
	// return for the same arguments.
	CountReviewQueue(ctx context.Context, adminID shared.TelegramID, topicIDs []shared.TopicID, now time.Time, ttl time.Duration) (int, error)

	// Reporting operations

	// ListByUploader returns batches submitted by the given uploader,
	// most recent first.
	ListByUploader(ctx context.Context, uploaderID shared.TelegramID, limit, offset int) ([]*UploadBatch, error)

	// ListCompletedBetween returns batches completed within [from, to).
	// Used by the daily review digest.
	ListCompletedBetween(ctx context.Context, from, to time.Time) ([]*UploadBatch, error)

	// CountByStatus returns batch counts grouped by status.
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// CountByUploader returns batch counts for one uploader grouped by status.
	CountByUploader(ctx context.Context, uploaderID shared.TelegramID) (map[Status]int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK (для транзакций)
// Решение по кандидату, счётчики партии и запись аудита фиксируются
// одной транзакцией: либо всё, либо ничего.
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork представляет единицу работы с транзакционной семантикой.
type UnitOfWork interface {
	// Batches возвращает репозиторий партий в рамках транзакции.
	Batches() Repository

	// Candidates возвращает репозиторий кандидатов в рамках транзакции.
	Candidates() candidate.Repository

	// Audit возвращает журнал аудита в рамках транзакции.
	Audit() audit.Repository

	// Commit фиксирует транзакцию.
	Commit(ctx context.Context) error

	// Rollback откатывает транзакцию.
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory создаёт единицы работы.
type UnitOfWorkFactory interface {
	// Begin начинает новую транзакцию.
	Begin(ctx context.Context) (UnitOfWork, error)
}
