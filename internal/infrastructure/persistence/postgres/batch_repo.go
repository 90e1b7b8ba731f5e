// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// BATCH REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const batchColumns = `id, uploader_id, topic_id, source_kind, source_ref, status,
	   lock_holder_id, lock_acquired_at, pending_count, approved_count,
	   rejected_count, degraded, created_at, updated_at, completed_at`

// BatchRepository implements batch.Repository for PostgreSQL.
// It runs against either the connection pool or a transaction, so the
// same implementation serves both direct reads and unit-of-work writes.
type BatchRepository struct {
	q Querier
}

// NewBatchRepository creates a new BatchRepository on the connection pool.
func NewBatchRepository(conn *Connection) *BatchRepository {
	return &BatchRepository{q: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Basic Operations
// ─────────────────────────────────────────────────────────────────────────────

// Save persists a new batch.
func (r *BatchRepository) Save(ctx context.Context, b *batch.UploadBatch) error {
	query := `
		INSERT INTO upload_batches (
			id, uploader_id, topic_id, source_kind, source_ref, status,
			lock_holder_id, lock_acquired_at, pending_count, approved_count,
			rejected_count, degraded, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.q.Exec(ctx, query,
		string(b.ID),
		int64(b.UploaderID),
		int64(b.TopicID),
		string(b.SourceKind),
		b.SourceRef,
		string(b.Status),
		int64(b.Lease.HolderID),
		nullableTime(b.Lease.AcquiredAt),
		b.PendingCount,
		b.ApprovedCount,
		b.RejectedCount,
		b.Degraded,
		b.CreatedAt,
		b.UpdatedAt,
		nullableTime(b.CompletedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return batch.ErrBatchAlreadyExists
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}

	return nil
}

// Update persists changes to an existing batch, including lease fields.
func (r *BatchRepository) Update(ctx context.Context, b *batch.UploadBatch) error {
	query := `
		UPDATE upload_batches SET
			status = $1,
			lock_holder_id = $2,
			lock_acquired_at = $3,
			pending_count = $4,
			approved_count = $5,
			rejected_count = $6,
			degraded = $7,
			updated_at = $8,
			completed_at = $9
		WHERE id = $10
	`

	result, err := r.q.Exec(ctx, query,
		string(b.Status),
		int64(b.Lease.HolderID),
		nullableTime(b.Lease.AcquiredAt),
		b.PendingCount,
		b.ApprovedCount,
		b.RejectedCount,
		b.Degraded,
		b.UpdatedAt,
		nullableTime(b.CompletedAt),
		string(b.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	if result.RowsAffected() == 0 {
		return batch.ErrBatchNotFound
	}

	return nil
}

// GetByID returns a batch by its ID.
func (r *BatchRepository) GetByID(ctx context.Context, id shared.BatchID) (*batch.UploadBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM upload_batches WHERE id = $1`

	row := r.q.QueryRow(ctx, query, string(id))
	return r.scanBatch(row)
}

// GetByIDForUpdate returns a batch with a row-level lock. Inside a
// transaction the lock is held until commit; on the pool FOR UPDATE
// degrades to a plain read.
func (r *BatchRepository) GetByIDForUpdate(ctx context.Context, id shared.BatchID) (*batch.UploadBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM upload_batches WHERE id = $1 FOR UPDATE`

	row := r.q.QueryRow(ctx, query, string(id))
	return r.scanBatch(row)
}

// ─────────────────────────────────────────────────────────────────────────────
// Queue Operations
// ─────────────────────────────────────────────────────────────────────────────

// ListReviewQueue returns non-terminal batches visible to the given admin,
// oldest created first. A batch is visible when the admin holds its lease
// or when no unexpired lease exists. Expiry is evaluated inside the query
// against the cutoff now-ttl, so stale leases surface without a sweeper.
func (r *BatchRepository) ListReviewQueue(ctx context.Context, adminID shared.TelegramID, topicIDs []shared.TopicID, now time.Time, ttl time.Duration, limit, offset int) ([]*batch.UploadBatch, error) {
	cutoff := now.Add(-ttl)

	query := `
		SELECT ` + batchColumns + `
		FROM upload_batches
		WHERE status IN ('draft', 'locked', 'in_review')
		  AND (lock_holder_id = 0 OR lock_holder_id = $1 OR lock_acquired_at <= $2)
	`

	args := []interface{}{int64(adminID), cutoff}
	if topicIDs != nil {
		query += ` AND topic_id = ANY($3)`
		args = append(args, topicIDsToInt64(topicIDs))
	}

	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review queue: %w", err)
	}
	defer rows.Close()

	return r.scanBatches(rows)
}

// CountReviewQueue returns the size of the queue ListReviewQueue would return.
func (r *BatchRepository) CountReviewQueue(ctx context.Context, adminID shared.TelegramID, topicIDs []shared.TopicID, now time.Time, ttl time.Duration) (int, error) {
	cutoff := now.Add(-ttl)

	query := `
		SELECT COUNT(*)
		FROM upload_batches
		WHERE status IN ('draft', 'locked', 'in_review')
		  AND (lock_holder_id = 0 OR lock_holder_id = $1 OR lock_acquired_at <= $2)
	`

	args := []interface{}{int64(adminID), cutoff}
	if topicIDs != nil {
		query += ` AND topic_id = ANY($3)`
		args = append(args, topicIDsToInt64(topicIDs))
	}

	var count int
	if err := r.q.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count review queue: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reporting Operations
// ─────────────────────────────────────────────────────────────────────────────

// ListByUploader returns batches submitted by the given uploader, most recent first.
func (r *BatchRepository) ListByUploader(ctx context.Context, uploaderID shared.TelegramID, limit, offset int) ([]*batch.UploadBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM upload_batches
		WHERE uploader_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.Query(ctx, query, int64(uploaderID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches by uploader: %w", err)
	}
	defer rows.Close()

	return r.scanBatches(rows)
}

// ListCompletedBetween returns batches completed within [from, to).
func (r *BatchRepository) ListCompletedBetween(ctx context.Context, from, to time.Time) ([]*batch.UploadBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM upload_batches
		WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2
		ORDER BY completed_at ASC
	`

	rows, err := r.q.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed batches: %w", err)
	}
	defer rows.Close()

	return r.scanBatches(rows)
}

// CountByStatus returns batch counts grouped by status.
func (r *BatchRepository) CountByStatus(ctx context.Context) (map[batch.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM upload_batches GROUP BY status`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count batches by status: %w", err)
	}
	defer rows.Close()

	return scanStatusCounts(rows)
}

// CountByUploader returns batch counts for one uploader grouped by status.
func (r *BatchRepository) CountByUploader(ctx context.Context, uploaderID shared.TelegramID) (map[batch.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM upload_batches WHERE uploader_id = $1 GROUP BY status`

	rows, err := r.q.Query(ctx, query, int64(uploaderID))
	if err != nil {
		return nil, fmt.Errorf("failed to count batches by uploader: %w", err)
	}
	defer rows.Close()

	return scanStatusCounts(rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanBatch scans a single batch from a row.
func (r *BatchRepository) scanBatch(row pgx.Row) (*batch.UploadBatch, error) {
	var b batch.UploadBatch
	var id, sourceKind, status string
	var uploaderID, topicID, holderID int64
	var acquiredAt, completedAt *time.Time

	err := row.Scan(
		&id,
		&uploaderID,
		&topicID,
		&sourceKind,
		&b.SourceRef,
		&status,
		&holderID,
		&acquiredAt,
		&b.PendingCount,
		&b.ApprovedCount,
		&b.RejectedCount,
		&b.Degraded,
		&b.CreatedAt,
		&b.UpdatedAt,
		&completedAt,
	)

	if IsNoRows(err) {
		return nil, batch.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}

	b.ID = shared.BatchID(id)
	b.UploaderID = shared.TelegramID(uploaderID)
	b.TopicID = shared.TopicID(topicID)
	b.SourceKind = batch.SourceKind(sourceKind)
	b.Status = batch.Status(status)
	b.Lease = batch.Lease{
		HolderID:   shared.TelegramID(holderID),
		AcquiredAt: timeOrZero(acquiredAt),
	}
	b.CompletedAt = timeOrZero(completedAt)

	return &b, nil
}

// scanBatches scans multiple batches from rows.
func (r *BatchRepository) scanBatches(rows pgx.Rows) ([]*batch.UploadBatch, error) {
	var batches []*batch.UploadBatch

	for rows.Next() {
		b, err := r.scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return batches, nil
}

// scanStatusCounts scans status/count pairs into a map.
func scanStatusCounts(rows pgx.Rows) (map[batch.Status]int, error) {
	counts := make(map[batch.Status]int)

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[batch.Status(status)] = count
	}

	return counts, rows.Err()
}

// topicIDsToInt64 converts topic IDs for use as a query parameter.
func topicIDsToInt64(ids []shared.TopicID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// timeOrZero maps NULL back to the zero time.
func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
