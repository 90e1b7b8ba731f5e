// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const auditColumns = `id, target_kind, target_id, action, field,
	   old_value, new_value, actor_id, actor_role, created_at`

// AuditRepository implements audit.Repository for PostgreSQL.
// The table is append-only and a database trigger rejects UPDATE and
// DELETE, so this repository exposes inserts and reads only.
type AuditRepository struct {
	q Querier
}

// NewAuditRepository creates a new AuditRepository on the connection pool.
func NewAuditRepository(conn *Connection) *AuditRepository {
	return &AuditRepository{q: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Write Operations
// ─────────────────────────────────────────────────────────────────────────────

// Save persists a single record and assigns its storage ID.
func (r *AuditRepository) Save(ctx context.Context, rec *audit.Record) error {
	query := `
		INSERT INTO audit_records (
			target_kind, target_id, action, field,
			old_value, new_value, actor_id, actor_role, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		string(rec.TargetKind),
		rec.TargetID,
		string(rec.Action),
		rec.Field,
		rec.OldValue,
		rec.NewValue,
		rec.ActorID,
		string(rec.ActorRole),
		rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}

	return nil
}

// SaveAll persists several records from one mutation in order, in a single
// round trip. IDs are assigned from the insert so callers see stored records.
func (r *AuditRepository) SaveAll(ctx context.Context, records []*audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	const fields = 9
	placeholders := make([]string, len(records))
	args := make([]interface{}, 0, len(records)*fields)

	for i, rec := range records {
		nums := make([]string, fields)
		for j := 0; j < fields; j++ {
			nums[j] = fmt.Sprintf("$%d", i*fields+j+1)
		}
		placeholders[i] = "(" + strings.Join(nums, ", ") + ")"

		args = append(args,
			string(rec.TargetKind),
			rec.TargetID,
			string(rec.Action),
			rec.Field,
			rec.OldValue,
			rec.NewValue,
			rec.ActorID,
			string(rec.ActorRole),
			rec.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO audit_records (
			target_kind, target_id, action, field,
			old_value, new_value, actor_id, actor_role, created_at
		) VALUES %s
		RETURNING id
	`, strings.Join(placeholders, ", "))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create audit records: %w", err)
	}
	defer rows.Close()

	// RETURNING yields rows in insertion order for a VALUES list.
	i := 0
	for rows.Next() {
		if i >= len(records) {
			break
		}
		if err := rows.Scan(&records[i].ID); err != nil {
			return fmt.Errorf("failed to scan audit record id: %w", err)
		}
		i++
	}

	return rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Read Operations
// ─────────────────────────────────────────────────────────────────────────────

// ListByTarget returns records for one entity in chronological order.
func (r *AuditRepository) ListByTarget(ctx context.Context, kind audit.TargetKind, targetID string, limit, offset int) ([]*audit.Record, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE target_kind = $1 AND target_id = $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.q.Query(ctx, query, string(kind), targetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records by target: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// CountByTarget returns the number of records for one entity.
func (r *AuditRepository) CountByTarget(ctx context.Context, kind audit.TargetKind, targetID string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_records WHERE target_kind = $1 AND target_id = $2",
		string(kind), targetID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// ListByActor returns records produced by one actor within a time range,
// newest first.
func (r *AuditRepository) ListByActor(ctx context.Context, actorID shared.TelegramID, tr shared.TimeRange, limit, offset int) ([]*audit.Record, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE actor_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.q.Query(ctx, query, int64(actorID), tr.From, tr.To, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records by actor: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// ListByAction returns records of one action within a time range, newest first.
func (r *AuditRepository) ListByAction(ctx context.Context, action audit.Action, tr shared.TimeRange, limit, offset int) ([]*audit.Record, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE action = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.q.Query(ctx, query, string(action), tr.From, tr.To, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records by action: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanRecord scans a single audit record from a row.
func (r *AuditRepository) scanRecord(row pgx.Row) (*audit.Record, error) {
	var rec audit.Record
	var targetKind, action, actorRole string

	err := row.Scan(
		&rec.ID,
		&targetKind,
		&rec.TargetID,
		&action,
		&rec.Field,
		&rec.OldValue,
		&rec.NewValue,
		&rec.ActorID,
		&actorRole,
		&rec.CreatedAt,
	)

	if IsNoRows(err) {
		return nil, audit.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	rec.TargetKind = audit.TargetKind(targetKind)
	rec.Action = audit.Action(action)
	rec.ActorRole = shared.Role(actorRole)

	return &rec, nil
}

// scanRecords scans multiple audit records from rows.
func (r *AuditRepository) scanRecords(rows pgx.Rows) ([]*audit.Record, error) {
	var records []*audit.Record

	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}
