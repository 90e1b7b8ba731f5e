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
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACQUIRE LOCK COMMAND
// Claims the review lease of a batch for an admin. Re-acquiring an
// already held lease refreshes it; an expired foreign lease is reclaimed
// in passing and never reported as an error.
// ══════════════════════════════════════════════════════════════════════════════

// AcquireLockCommand contains the data needed to claim a review lease.
type AcquireLockCommand struct {
	// BatchID is the batch to lock.
	BatchID string

	// AdminID is the Telegram id of the claiming admin.
	AdminID int64
}

// Validate validates the command.
func (c AcquireLockCommand) Validate() error {
	if c.BatchID == "" {
		return errors.New("acquire_lock: batch_id is required")
	}
	if c.AdminID <= 0 {
		return errors.New("acquire_lock: admin_id is required")
	}
	return nil
}

// AcquireLockResult contains the outcome of the lease claim.
type AcquireLockResult struct {
	// Refreshed is true when the caller already held the lease and the
	// claim only extended it.
	Refreshed bool

	// Reclaimed is true when an expired lease of another admin was
	// removed as part of this claim.
	Reclaimed bool

	// PreviousHolder is the admin whose expired lease was reclaimed
	// (0 when Reclaimed is false).
	PreviousHolder int64

	// ExpiresAt is when the claimed lease will expire.
	ExpiresAt time.Time

	// PendingCount is the number of candidates awaiting decisions.
	PendingCount int

	// Events contains domain events generated during the claim.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AcquireLockHandler handles the AcquireLockCommand.
type AcquireLockHandler struct {
	uowFactory     batch.UnitOfWorkFactory
	adminRepo      admin.Repository
	topics         curriculum.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	leaseTTL time.Duration
	now      func() time.Time
}

// AcquireLockHandlerConfig contains handler configuration.
type AcquireLockHandlerConfig struct {
	// LeaseTTL is the review lease duration. Zero means the domain default.
	LeaseTTL time.Duration

	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// DefaultAcquireLockHandlerConfig returns the default configuration.
func DefaultAcquireLockHandlerConfig() AcquireLockHandlerConfig {
	return AcquireLockHandlerConfig{
		LeaseTTL: batch.DefaultLeaseTTL,
	}
}

// NewAcquireLockHandler creates a new acquire lock handler.
func NewAcquireLockHandler(
	uowFactory batch.UnitOfWorkFactory,
	adminRepo admin.Repository,
	topics curriculum.Repository,
	eventPublisher shared.EventPublisher,
	config AcquireLockHandlerConfig,
) *AcquireLockHandler {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = batch.DefaultLeaseTTL
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &AcquireLockHandler{
		uowFactory:     uowFactory,
		adminRepo:      adminRepo,
		topics:         topics,
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		leaseTTL:       config.LeaseTTL,
		now:            config.Clock,
	}
}

// Handle executes the acquire lock command.
func (h *AcquireLockHandler) Handle(ctx context.Context, cmd AcquireLockCommand) (*AcquireLockResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	batchID, err := shared.NewBatchID(cmd.BatchID)
	if err != nil {
		return nil, fmt.Errorf("acquire_lock: %w", err)
	}

	// 2. Authorize the reviewer
	reviewer, err := requireReviewer(ctx, h.adminRepo, cmd.AdminID)
	if err != nil {
		return nil, fmt.Errorf("acquire_lock: %w", err)
	}

	// 3. Load the batch under a row lock so two admins cannot claim the
	// same lease concurrently
	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire_lock: begin transaction: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	b, err := uow.Batches().GetByIDForUpdate(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("acquire_lock: %w", err)
	}

	if err := requireScope(ctx, h.topics, reviewer, b.TopicID); err != nil {
		return nil, fmt.Errorf("acquire_lock: %w", err)
	}

	// 4. Claim the lease
	now := h.now()
	oldHolder, _ := b.HolderAt(now, h.leaseTTL)

	refreshed, reclaimed, err := b.AcquireLock(reviewer.TelegramID, now, h.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire_lock: %w", err)
	}

	result := &AcquireLockResult{
		Refreshed:    refreshed,
		ExpiresAt:    b.Lease.ExpiresAt(h.leaseTTL),
		PendingCount: b.PendingCount,
	}

	// 5. Record the mutation
	records := make([]*audit.Record, 0, 2)

	if reclaimed != nil {
		result.Reclaimed = true
		result.PreviousHolder = reclaimed.PreviousHolder.Int64()

		reclaimRec, err := audit.LockHolderRecord(
			b.ID.String(), audit.ActionLeaseReclaimed,
			reclaimed.PreviousHolder, 0, shared.SystemActor(), now,
		)
		if err != nil {
			return nil, fmt.Errorf("acquire_lock: audit: %w", err)
		}
		records = append(records, reclaimRec)

		result.Events = append(result.Events, shared.NewLeaseReclaimedEvent(
			b.ID.String(), reclaimed.PreviousHolder.Int64(), cmd.AdminID, reclaimed.AcquiredAt,
		))
	}

	action := audit.ActionLockAcquired
	if refreshed {
		action = audit.ActionLockRefreshed
	}

	lockRec, err := audit.LockHolderRecord(
		b.ID.String(), action,
		oldHolder, reviewer.TelegramID, reviewer.Actor(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire_lock: audit: %w", err)
	}
	records = append(records, lockRec)

	result.Events = append(result.Events, shared.NewBatchLockedEvent(
		b.ID.String(), cmd.AdminID, refreshed, result.ExpiresAt,
	))

	// 6. Persist atomically
	if err := uow.Batches().Update(ctx, b); err != nil {
		return nil, fmt.Errorf("acquire_lock: update batch: %w", err)
	}
	if err := uow.Audit().SaveAll(ctx, records); err != nil {
		return nil, fmt.Errorf("acquire_lock: save audit records: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("acquire_lock: commit: %w", err)
	}

	// 7. Publish domain events (best-effort)
	publishEvents(h.eventPublisher, h.logger, "acquire_lock", result.Events)

	return result, nil
}
