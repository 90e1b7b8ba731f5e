// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const adminColumns = `telegram_id, username, first_name, role, is_active,
	   promoted_by, promoted_at, created_at, updated_at`

// AdminRepository implements admin.Repository for PostgreSQL.
// Review scopes live in a separate table and are loaded and saved with
// the admin aggregate.
type AdminRepository struct {
	q Querier
}

// NewAdminRepository creates a new AdminRepository on the connection pool.
func NewAdminRepository(conn *Connection) *AdminRepository {
	return &AdminRepository{q: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Basic Operations
// ─────────────────────────────────────────────────────────────────────────────

// Save persists a new admin with their scopes.
func (r *AdminRepository) Save(ctx context.Context, a *admin.Admin) error {
	query := `
		INSERT INTO admins (
			telegram_id, username, first_name, role, is_active,
			promoted_by, promoted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.Exec(ctx, query,
		int64(a.TelegramID),
		a.Username,
		a.FirstName,
		string(a.Role),
		a.IsActive,
		int64(a.PromotedBy),
		nullableTime(a.PromotedAt),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("admin %d already exists", a.TelegramID)
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}

	return r.replaceScopes(ctx, a)
}

// Update persists changes to an existing admin, scopes included.
func (r *AdminRepository) Update(ctx context.Context, a *admin.Admin) error {
	query := `
		UPDATE admins SET
			username = $1,
			first_name = $2,
			role = $3,
			is_active = $4,
			promoted_by = $5,
			promoted_at = $6,
			updated_at = $7
		WHERE telegram_id = $8
	`

	result, err := r.q.Exec(ctx, query,
		a.Username,
		a.FirstName,
		string(a.Role),
		a.IsActive,
		int64(a.PromotedBy),
		nullableTime(a.PromotedAt),
		a.UpdatedAt,
		int64(a.TelegramID),
	)
	if err != nil {
		return fmt.Errorf("failed to update admin: %w", err)
	}

	if result.RowsAffected() == 0 {
		return admin.ErrAdminNotFound
	}

	return r.replaceScopes(ctx, a)
}

// GetByTelegramID returns an admin by Telegram id.
func (r *AdminRepository) GetByTelegramID(ctx context.Context, id shared.TelegramID) (*admin.Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admins WHERE telegram_id = $1`

	a, err := r.scanAdmin(r.q.QueryRow(ctx, query, int64(id)))
	if err != nil {
		return nil, err
	}

	if err := r.loadScopes(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// List Operations
// ─────────────────────────────────────────────────────────────────────────────

// ListByRole returns active admins with the given role.
func (r *AdminRepository) ListByRole(ctx context.Context, role shared.Role) ([]*admin.Admin, error) {
	query := `
		SELECT ` + adminColumns + `
		FROM admins
		WHERE role = $1 AND is_active = TRUE
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to query admins by role: %w", err)
	}
	defer rows.Close()

	return r.scanAdminsWithScopes(ctx, rows)
}

// ListReviewers returns active admins able to work the review queue.
func (r *AdminRepository) ListReviewers(ctx context.Context) ([]*admin.Admin, error) {
	query := `
		SELECT ` + adminColumns + `
		FROM admins
		WHERE is_active = TRUE AND role IN ('admin', 'super_admin')
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviewers: %w", err)
	}
	defer rows.Close()

	return r.scanAdminsWithScopes(ctx, rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// replaceScopes rewrites the scope rows of one admin to match the aggregate.
func (r *AdminRepository) replaceScopes(ctx context.Context, a *admin.Admin) error {
	_, err := r.q.Exec(ctx, "DELETE FROM admin_scopes WHERE admin_id = $1", int64(a.TelegramID))
	if err != nil {
		return fmt.Errorf("failed to clear admin scopes: %w", err)
	}

	if len(a.Scopes) == 0 {
		return nil
	}

	placeholders := make([]string, len(a.Scopes))
	args := make([]interface{}, 0, len(a.Scopes)*3)
	for i, s := range a.Scopes {
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, int64(a.TelegramID), s.UniversityID, s.CourseID)
	}

	query := fmt.Sprintf(
		"INSERT INTO admin_scopes (admin_id, university_id, course_id) VALUES %s",
		strings.Join(placeholders, ", "),
	)

	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save admin scopes: %w", err)
	}

	return nil
}

// loadScopes attaches the scope rows of one admin.
func (r *AdminRepository) loadScopes(ctx context.Context, a *admin.Admin) error {
	query := `
		SELECT university_id, course_id
		FROM admin_scopes
		WHERE admin_id = $1
		ORDER BY university_id ASC, course_id ASC
	`

	rows, err := r.q.Query(ctx, query, int64(a.TelegramID))
	if err != nil {
		return fmt.Errorf("failed to query admin scopes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s admin.ReviewScope
		if err := rows.Scan(&s.UniversityID, &s.CourseID); err != nil {
			return fmt.Errorf("failed to scan admin scope: %w", err)
		}
		a.Scopes = append(a.Scopes, s)
	}

	return rows.Err()
}

// scanAdmin scans a single admin from a row, without scopes.
func (r *AdminRepository) scanAdmin(row pgx.Row) (*admin.Admin, error) {
	var a admin.Admin
	var telegramID, promotedBy int64
	var role string
	var promotedAt *time.Time

	err := row.Scan(
		&telegramID,
		&a.Username,
		&a.FirstName,
		&role,
		&a.IsActive,
		&promotedBy,
		&promotedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if IsNoRows(err) {
		return nil, admin.ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan admin: %w", err)
	}

	a.TelegramID = shared.TelegramID(telegramID)
	a.Role = shared.Role(role)
	a.PromotedBy = shared.TelegramID(promotedBy)
	a.PromotedAt = timeOrZero(promotedAt)

	return &a, nil
}

// scanAdminsWithScopes scans admins from rows, then batch-loads their scopes
// to avoid one query per admin.
func (r *AdminRepository) scanAdminsWithScopes(ctx context.Context, rows pgx.Rows) ([]*admin.Admin, error) {
	var admins []*admin.Admin
	byID := make(map[int64]*admin.Admin)

	for rows.Next() {
		a, err := r.scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, a)
		byID[int64(a.TelegramID)] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if len(admins) == 0 {
		return admins, nil
	}

	ids := make([]int64, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, int64(a.TelegramID))
	}

	scopeRows, err := r.q.Query(ctx,
		`SELECT admin_id, university_id, course_id
		 FROM admin_scopes
		 WHERE admin_id = ANY($1)
		 ORDER BY university_id ASC, course_id ASC`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin scopes: %w", err)
	}
	defer scopeRows.Close()

	for scopeRows.Next() {
		var adminID int64
		var s admin.ReviewScope
		if err := scopeRows.Scan(&adminID, &s.UniversityID, &s.CourseID); err != nil {
			return nil, fmt.Errorf("failed to scan admin scope: %w", err)
		}
		if a, ok := byID[adminID]; ok {
			a.Scopes = append(a.Scopes, s)
		}
	}

	return admins, scopeRows.Err()
}
