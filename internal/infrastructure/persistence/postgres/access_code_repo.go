// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCESS CODE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const accessCodeColumns = `id, code_hash, created_by, is_active,
	   used_by, used_at, created_at, expires_at`

// AccessCodeRepository implements admin.AccessCodeRepository for PostgreSQL.
// Only code hashes are stored; the plain code never reaches the database.
type AccessCodeRepository struct {
	q Querier
}

// NewAccessCodeRepository creates a new AccessCodeRepository on the connection pool.
func NewAccessCodeRepository(conn *Connection) *AccessCodeRepository {
	return &AccessCodeRepository{q: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Basic Operations
// ─────────────────────────────────────────────────────────────────────────────

// Save persists a new code and assigns its ID.
func (r *AccessCodeRepository) Save(ctx context.Context, c *admin.AccessCode) error {
	query := `
		INSERT INTO access_codes (
			code_hash, created_by, is_active, used_by, used_at, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		c.CodeHash,
		int64(c.CreatedBy),
		c.IsActive,
		int64(c.UsedBy),
		nullableTime(c.UsedAt),
		c.CreatedAt,
		c.ExpiresAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create access code: %w", err)
	}

	return nil
}

// Update persists redemption or revocation.
func (r *AccessCodeRepository) Update(ctx context.Context, c *admin.AccessCode) error {
	query := `
		UPDATE access_codes SET
			is_active = $1,
			used_by = $2,
			used_at = $3
		WHERE id = $4
	`

	result, err := r.q.Exec(ctx, query,
		c.IsActive,
		int64(c.UsedBy),
		nullableTime(c.UsedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update access code: %w", err)
	}

	if result.RowsAffected() == 0 {
		return admin.ErrCodeNotFound
	}

	return nil
}

// GetByID returns a code by its ID.
func (r *AccessCodeRepository) GetByID(ctx context.Context, id int64) (*admin.AccessCode, error) {
	query := `SELECT ` + accessCodeColumns + ` FROM access_codes WHERE id = $1`

	return r.scanCode(r.q.QueryRow(ctx, query, id))
}

// ─────────────────────────────────────────────────────────────────────────────
// Redemption Queries
// ─────────────────────────────────────────────────────────────────────────────

// ListRedeemable returns active, unused, unexpired codes.
func (r *AccessCodeRepository) ListRedeemable(ctx context.Context, now time.Time) ([]*admin.AccessCode, error) {
	query := `
		SELECT ` + accessCodeColumns + `
		FROM access_codes
		WHERE is_active = TRUE AND used_by = 0 AND expires_at > $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query redeemable codes: %w", err)
	}
	defer rows.Close()

	return r.scanCodes(rows)
}

// ListActive returns active unexpired codes for the issuer overview.
func (r *AccessCodeRepository) ListActive(ctx context.Context, now time.Time) ([]*admin.AccessCode, error) {
	query := `
		SELECT ` + accessCodeColumns + `
		FROM access_codes
		WHERE is_active = TRUE AND expires_at > $1
		ORDER BY created_at DESC
	`

	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active codes: %w", err)
	}
	defer rows.Close()

	return r.scanCodes(rows)
}

// DeactivateExpired marks expired active codes inactive and returns how many
// were affected.
func (r *AccessCodeRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := r.q.Exec(ctx,
		"UPDATE access_codes SET is_active = FALSE WHERE is_active = TRUE AND expires_at <= $1",
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired codes: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanCode scans a single access code from a row.
func (r *AccessCodeRepository) scanCode(row pgx.Row) (*admin.AccessCode, error) {
	var c admin.AccessCode
	var createdBy, usedBy int64
	var usedAt *time.Time

	err := row.Scan(
		&c.ID,
		&c.CodeHash,
		&createdBy,
		&c.IsActive,
		&usedBy,
		&usedAt,
		&c.CreatedAt,
		&c.ExpiresAt,
	)

	if IsNoRows(err) {
		return nil, admin.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan access code: %w", err)
	}

	c.CreatedBy = shared.TelegramID(createdBy)
	c.UsedBy = shared.TelegramID(usedBy)
	c.UsedAt = timeOrZero(usedAt)

	return &c, nil
}

// scanCodes scans multiple access codes from rows.
func (r *AccessCodeRepository) scanCodes(rows pgx.Rows) ([]*admin.AccessCode, error) {
	var codes []*admin.AccessCode

	for rows.Next() {
		c, err := r.scanCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return codes, nil
}
