package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RELEASE LOCK COMMAND
// Gives the review lease back. A batch with no pending candidates left
// completes on release; otherwise it returns to the queue as a draft.
// ══════════════════════════════════════════════════════════════════════════════

// ReleaseLockCommand contains the data needed to release a lease.
type ReleaseLockCommand struct {
	// BatchID is the batch to release.
	BatchID string

	// AdminID is the Telegram id of the releasing admin. Must hold the
	// unexpired lease.
	AdminID int64
}

// Validate validates the command.
func (c ReleaseLockCommand) Validate() error {
	if c.BatchID == "" {
		return errors.New("release_lock: batch_id is required")
	}
	if c.AdminID <= 0 {
		return errors.New("release_lock: admin_id is required")
	}
	return nil
}

// ReleaseLockResult contains the outcome of the release.
type ReleaseLockResult struct {
	// Completed is true when the batch had no pending candidates and
	// finished on release.
	Completed bool

	// PendingLeft is the number of undecided candidates returned to
	// the queue.
	PendingLeft int

	// Events contains domain events generated during the release.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ReleaseLockHandler handles the ReleaseLockCommand.
type ReleaseLockHandler struct {
	uowFactory     batch.UnitOfWorkFactory
	adminRepo      admin.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	leaseTTL time.Duration
	now      func() time.Time
}

// ReleaseLockHandlerConfig contains handler configuration.
type ReleaseLockHandlerConfig struct {
	// LeaseTTL is the review lease duration. Zero means the domain default.
	LeaseTTL time.Duration

	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// DefaultReleaseLockHandlerConfig returns the default configuration.
func DefaultReleaseLockHandlerConfig() ReleaseLockHandlerConfig {
	return ReleaseLockHandlerConfig{
		LeaseTTL: batch.DefaultLeaseTTL,
	}
}

// NewReleaseLockHandler creates a new release lock handler.
func NewReleaseLockHandler(
	uowFactory batch.UnitOfWorkFactory,
	adminRepo admin.Repository,
	eventPublisher shared.EventPublisher,
	config ReleaseLockHandlerConfig,
) *ReleaseLockHandler {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = batch.DefaultLeaseTTL
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &ReleaseLockHandler{
		uowFactory:     uowFactory,
		adminRepo:      adminRepo,
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		leaseTTL:       config.LeaseTTL,
		now:            config.Clock,
	}
}

// Handle executes the release lock command.
func (h *ReleaseLockHandler) Handle(ctx context.Context, cmd ReleaseLockCommand) (*ReleaseLockResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	batchID, err := shared.NewBatchID(cmd.BatchID)
	if err != nil {
		return nil, fmt.Errorf("release_lock: %w", err)
	}

	// 2. Authorize the reviewer
	reviewer, err := requireReviewer(ctx, h.adminRepo, cmd.AdminID)
	if err != nil {
		return nil, fmt.Errorf("release_lock: %w", err)
	}

	// 3. Load the batch under a row lock
	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("release_lock: begin transaction: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	b, err := uow.Batches().GetByIDForUpdate(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("release_lock: %w", err)
	}

	// 4. Release the lease. A successful release implies the caller held
	// an unexpired lease, so no reclaim can accompany it.
	now := h.now()
	oldStatus := b.Status

	if _, err := b.ReleaseLock(reviewer.TelegramID, now, h.leaseTTL); err != nil {
		return nil, fmt.Errorf("release_lock: %w", err)
	}

	result := &ReleaseLockResult{
		Completed:   b.Status == batch.StatusCompleted,
		PendingLeft: b.PendingCount,
	}

	// 5. Record the mutation
	records := make([]*audit.Record, 0, 2)

	releaseRec, err := audit.LockHolderRecord(
		b.ID.String(), audit.ActionLockReleased,
		reviewer.TelegramID, 0, reviewer.Actor(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("release_lock: audit: %w", err)
	}
	records = append(records, releaseRec)

	if result.Completed {
		completedRec, err := audit.BatchStatusRecord(
			b.ID.String(), audit.ActionBatchCompleted,
			string(oldStatus), string(b.Status), reviewer.Actor(), now,
		)
		if err != nil {
			return nil, fmt.Errorf("release_lock: audit: %w", err)
		}
		records = append(records, completedRec)

		result.Events = append(result.Events, shared.NewBatchCompletedEvent(
			b.ID.String(), b.UploaderID.Int64(), cmd.AdminID,
			b.ApprovedCount, b.RejectedCount,
		))
	} else {
		result.Events = append(result.Events, shared.NewBatchReleasedEvent(
			b.ID.String(), cmd.AdminID, b.PendingCount,
		))
	}

	// 6. Persist atomically
	if err := uow.Batches().Update(ctx, b); err != nil {
		return nil, fmt.Errorf("release_lock: update batch: %w", err)
	}
	if err := uow.Audit().SaveAll(ctx, records); err != nil {
		return nil, fmt.Errorf("release_lock: save audit records: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("release_lock: commit: %w", err)
	}

	// 7. Publish domain events (best-effort)
	publishEvents(h.eventPublisher, h.logger, "release_lock", result.Events)

	return result, nil
}
