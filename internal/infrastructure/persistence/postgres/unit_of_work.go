// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

import (
	"context"
	"fmt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork implements batch.UnitOfWork over a single pgx transaction.
// The repositories it hands out are bound to that transaction, so a decision,
// the batch counter update and the audit records commit or roll back together.
type UnitOfWork struct {
	tx         pgx.Tx
	batches    *BatchRepository
	candidates *CandidateRepository
	audit      *AuditRepository
	done       bool
}

// Batches returns the batch repository bound to this transaction.
func (u *UnitOfWork) Batches() batch.Repository {
	return u.batches
}

// Candidates returns the candidate repository bound to this transaction.
func (u *UnitOfWork) Candidates() candidate.Repository {
	return u.candidates
}

// Audit returns the audit repository bound to this transaction.
func (u *UnitOfWork) Audit() audit.Repository {
	return u.audit
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return ErrTransactionFailed
	}
	u.done = true

	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. Calling it after Commit is a no-op,
// so handlers can defer it unconditionally.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true

	if err := u.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Factory
// ─────────────────────────────────────────────────────────────────────────────

// UnitOfWorkFactory implements batch.UnitOfWorkFactory on the connection pool.
type UnitOfWorkFactory struct {
	conn *Connection
}

// NewUnitOfWorkFactory creates a new UnitOfWorkFactory.
func NewUnitOfWorkFactory(conn *Connection) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{conn: conn}
}

// Begin starts a new transaction and returns a unit of work bound to it.
func (f *UnitOfWorkFactory) Begin(ctx context.Context) (batch.UnitOfWork, error) {
	tx, err := f.conn.BeginTx(ctx, DefaultTxOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &UnitOfWork{
		tx:         tx,
		batches:    &BatchRepository{q: tx},
		candidates: &CandidateRepository{q: tx},
		audit:      &AuditRepository{q: tx},
	}, nil
}
