package audit

import (
	"context"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// Repository defines the interface for audit log persistence.
// The log is append-only: implementations expose no update or delete.
type Repository interface {
	// Save persists a single record.
	Save(ctx context.Context, r *Record) error

	// SaveAll persists several records from one mutation in order.
	SaveAll(ctx context.Context, records []*Record) error

	// ListByTarget returns records for one entity in chronological order.
	ListByTarget(ctx context.Context, kind TargetKind, targetID string, limit, offset int) ([]*Record, error)

	// CountByTarget returns the number of records for one entity.
	CountByTarget(ctx context.Context, kind TargetKind, targetID string) (int, error)

	// ListByActor returns records produced by one actor within a time range,
	// newest first.
	ListByActor(ctx context.Context, actorID shared.TelegramID, tr shared.TimeRange, limit, offset int) ([]*Record, error)

	// ListByAction returns records of one action within a time range,
	// newest first.
	ListByAction(ctx context.Context, action Action, tr shared.TimeRange, limit, offset int) ([]*Record, error)
}
