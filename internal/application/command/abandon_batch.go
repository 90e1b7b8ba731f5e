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
// ABANDON BATCH COMMAND
// Closes a batch for good. Pending candidates stay on record in their
// last state; nothing is deleted. Allowed to the uploader of the batch
// and to super admins.
// ══════════════════════════════════════════════════════════════════════════════

// AbandonBatchCommand contains the data needed to abandon a batch.
type AbandonBatchCommand struct {
	// BatchID is the batch to abandon.
	BatchID string

	// ActorID is the Telegram id of the acting admin.
	ActorID int64

	// Reason is an optional free-form explanation for the audit trail.
	Reason string
}

// Validate validates the command.
func (c AbandonBatchCommand) Validate() error {
	if c.BatchID == "" {
		return errors.New("abandon_batch: batch_id is required")
	}
	if c.ActorID <= 0 {
		return errors.New("abandon_batch: actor_id is required")
	}
	return nil
}

// AbandonBatchResult contains the outcome of the abandonment.
type AbandonBatchResult struct {
	// PendingLeft is the number of candidates left undecided for good.
	PendingLeft int

	// Events contains domain events generated during the abandonment.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AbandonBatchHandler handles the AbandonBatchCommand.
type AbandonBatchHandler struct {
	uowFactory     batch.UnitOfWorkFactory
	adminRepo      admin.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	now func() time.Time
}

// AbandonBatchHandlerConfig contains handler configuration.
type AbandonBatchHandlerConfig struct {
	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// NewAbandonBatchHandler creates a new abandon batch handler.
func NewAbandonBatchHandler(
	uowFactory batch.UnitOfWorkFactory,
	adminRepo admin.Repository,
	eventPublisher shared.EventPublisher,
	config AbandonBatchHandlerConfig,
) *AbandonBatchHandler {
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &AbandonBatchHandler{
		uowFactory:     uowFactory,
		adminRepo:      adminRepo,
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		now:            config.Clock,
	}
}

// Handle executes the abandon batch command.
func (h *AbandonBatchHandler) Handle(ctx context.Context, cmd AbandonBatchCommand) (*AbandonBatchResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	batchID, err := shared.NewBatchID(cmd.BatchID)
	if err != nil {
		return nil, fmt.Errorf("abandon_batch: %w", err)
	}

	// 2. Load the acting admin
	actor, err := loadActor(ctx, h.adminRepo, cmd.ActorID)
	if err != nil {
		return nil, fmt.Errorf("abandon_batch: %w", err)
	}

	// 3. Load the batch under a row lock
	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("abandon_batch: begin transaction: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	b, err := uow.Batches().GetByIDForUpdate(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("abandon_batch: %w", err)
	}

	// Only the uploader or an unrestricted admin may close a batch.
	if b.UploaderID != actor.TelegramID && !actor.Role.IsElevated() {
		return nil, fmt.Errorf("abandon_batch: %w", shared.ErrAdminNotAuthorized)
	}

	// 4. Abandon
	now := h.now()
	oldStatus := b.Status

	if err := b.Abandon(now); err != nil {
		return nil, fmt.Errorf("abandon_batch: %w", err)
	}

	result := &AbandonBatchResult{
		PendingLeft: b.PendingCount,
	}

	// 5. Record the mutation
	newValue := string(b.Status)
	if cmd.Reason != "" {
		newValue = fmt.Sprintf("%s (%s)", b.Status, cmd.Reason)
	}

	abandonedRec, err := audit.BatchStatusRecord(
		b.ID.String(), audit.ActionBatchAbandoned,
		string(oldStatus), newValue, actor.Actor(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("abandon_batch: audit: %w", err)
	}

	result.Events = append(result.Events, shared.NewBatchAbandonedEvent(
		b.ID.String(), cmd.ActorID, cmd.Reason,
	))

	// 6. Persist atomically
	if err := uow.Batches().Update(ctx, b); err != nil {
		return nil, fmt.Errorf("abandon_batch: update batch: %w", err)
	}
	if err := uow.Audit().Save(ctx, abandonedRec); err != nil {
		return nil, fmt.Errorf("abandon_batch: save audit record: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("abandon_batch: commit: %w", err)
	}

	// 7. Publish domain events (best-effort)
	publishEvents(h.eventPublisher, h.logger, "abandon_batch", result.Events)

	return result, nil
}
