package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST BATCH COMMAND
// The deferred half of a submission: picks up a draft batch recorded by
// SubmitBatchHandler in async mode and runs recognition, extraction and
// moderation against it. Triggered by the batch.ingest_requested event.
// ══════════════════════════════════════════════════════════════════════════════

// IngestBatchCommand contains the document of a previously recorded draft.
type IngestBatchCommand struct {
	// BatchID is the draft batch to ingest.
	BatchID string

	// Kind is the document kind: "text", "pdf" or "photo".
	Kind string

	// Text is the document text for Kind "text".
	Text string

	// Content is the raw document bytes for Kind "pdf" or "photo".
	Content []byte

	// Filename is the original filename, if any.
	Filename string
}

// Validate validates the command.
func (c IngestBatchCommand) Validate() error {
	if c.BatchID == "" {
		return errors.New("ingest_batch: batch_id is required")
	}
	if !batch.SourceKind(c.Kind).IsValid() {
		return fmt.Errorf("ingest_batch: unknown document kind %q", c.Kind)
	}
	return nil
}

// IngestBatchResult contains the outcome of the deferred ingest.
type IngestBatchResult struct {
	// Skipped is true when the batch had already left the draft status
	// and the ingest was a no-op. Redelivered events land here.
	Skipped bool

	// Total is the number of extracted candidates.
	Total int

	// Pending is the number of candidates waiting for review.
	Pending int

	// Flagged is the number of pending candidates marked for close review.
	Flagged int

	// AutoRejected is the number of candidates rejected by score.
	AutoRejected int

	// Malformed is the number of document blocks that could not be parsed.
	Malformed int

	// Truncated is true when the document tail was skipped.
	Truncated bool

	// Degraded is true when at least one candidate fell back to the
	// heuristic score.
	Degraded bool

	// Completed is true when every candidate was auto-rejected.
	Completed bool

	// IngestFailed is true when the document produced no candidates and
	// the batch was abandoned.
	IngestFailed bool

	// FailureReason explains a failed ingest.
	FailureReason string

	// Events contains domain events generated during ingest.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IngestBatchHandler handles the IngestBatchCommand.
type IngestBatchHandler struct {
	uowFactory     batch.UnitOfWorkFactory
	topics         curriculum.Repository
	ingest         ingestDeps
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	now func() time.Time
}

// IngestBatchHandlerConfig contains handler configuration.
type IngestBatchHandlerConfig struct {
	// MaxCandidates caps the number of candidates per batch.
	MaxCandidates int

	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// NewIngestBatchHandler creates a new ingest batch handler.
func NewIngestBatchHandler(
	uowFactory batch.UnitOfWorkFactory,
	topics curriculum.Repository,
	recognizer TextRecognizer,
	moderator *candidate.Moderator,
	ids shared.IDGenerator,
	eventPublisher shared.EventPublisher,
	config IngestBatchHandlerConfig,
) *IngestBatchHandler {
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultSubmitBatchHandlerConfig().MaxCandidates
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &IngestBatchHandler{
		uowFactory: uowFactory,
		topics:     topics,
		ingest: ingestDeps{
			recognizer:    recognizer,
			moderator:     moderator,
			ids:           ids,
			maxCandidates: config.MaxCandidates,
		},
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		now:            config.Clock,
	}
}

// Handle executes the ingest batch command.
func (h *IngestBatchHandler) Handle(ctx context.Context, cmd IngestBatchCommand) (*IngestBatchResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	batchID, err := shared.NewBatchID(cmd.BatchID)
	if err != nil {
		return nil, fmt.Errorf("ingest_batch: %w", err)
	}

	// 2. Load the batch under a row lock: a concurrent reclaim or a
	// redelivered event must not ingest twice
	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest_batch: begin transaction: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	b, err := uow.Batches().GetByIDForUpdate(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("ingest_batch: %w", err)
	}

	// Only an untouched draft can take an ingest result. A draft with
	// candidate counts was already ingested and is waiting for review;
	// any other status means the batch was closed in the meantime.
	if b.Status != batch.StatusDraft || b.TotalCount() > 0 {
		return &IngestBatchResult{Skipped: true}, nil
	}

	// 3. Resolve the topic (its name feeds the scorer prompt)
	topic, err := h.topics.GetTopic(ctx, b.TopicID)
	if err != nil {
		return nil, fmt.Errorf("ingest_batch: resolve topic %d: %w", b.TopicID.Int64(), err)
	}

	// 4. Run the ingest pipeline
	now := h.now()

	in := ingestInput{
		Kind:     batch.SourceKind(cmd.Kind),
		Text:     cmd.Text,
		Content:  cmd.Content,
		Filename: cmd.Filename,
	}

	outcome, err := runIngest(ctx, h.ingest, b, b.UploaderID.Int64(), topic.Name, in, now)
	if err != nil {
		// The document could not even be read (recognition backend
		// down). The draft stays on record; abandon it so it does not
		// linger in the queue forever.
		return h.recordFailedIngest(ctx, uow, b, now, err)
	}

	result := &IngestBatchResult{
		Total:         outcome.Total,
		Pending:       outcome.Pending,
		Flagged:       outcome.Flagged,
		AutoRejected:  outcome.AutoRejected,
		Malformed:     outcome.Malformed,
		Truncated:     outcome.Truncated,
		Degraded:      outcome.Degraded,
		Completed:     outcome.Completed,
		IngestFailed:  outcome.Failed,
		FailureReason: outcome.FailureReason,
		Events:        outcome.Events,
	}

	// 5. Persist batch, candidates and audit records atomically
	if err := uow.Batches().Update(ctx, b); err != nil {
		return nil, fmt.Errorf("ingest_batch: update batch: %w", err)
	}
	if len(outcome.Candidates) > 0 {
		if err := uow.Candidates().SaveAll(ctx, outcome.Candidates); err != nil {
			return nil, fmt.Errorf("ingest_batch: save candidates: %w", err)
		}
	}
	if err := uow.Audit().SaveAll(ctx, outcome.Records); err != nil {
		return nil, fmt.Errorf("ingest_batch: save audit records: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ingest_batch: commit: %w", err)
	}

	// 6. Publish domain events (best-effort)
	publishEvents(h.eventPublisher, h.logger, "ingest_batch", result.Events)

	return result, nil
}

// recordFailedIngest abandons a draft whose document could not be read
// at all. The failure is audited and announced like an empty document.
func (h *IngestBatchHandler) recordFailedIngest(
	ctx context.Context,
	uow batch.UnitOfWork,
	b *batch.UploadBatch,
	now time.Time,
	cause error,
) (*IngestBatchResult, error) {
	oldStatus := b.Status
	if err := b.Abandon(now); err != nil {
		return nil, fmt.Errorf("ingest_batch: %w", err)
	}

	abandonedRec, err := audit.BatchStatusRecord(
		b.ID.String(), audit.ActionBatchAbandoned,
		string(oldStatus), string(b.Status), shared.SystemActor(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("ingest_batch: audit: %w", err)
	}

	if err := uow.Batches().Update(ctx, b); err != nil {
		return nil, fmt.Errorf("ingest_batch: update batch: %w", err)
	}
	if err := uow.Audit().Save(ctx, abandonedRec); err != nil {
		return nil, fmt.Errorf("ingest_batch: save audit record: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ingest_batch: commit: %w", err)
	}

	result := &IngestBatchResult{
		IngestFailed:  true,
		FailureReason: cause.Error(),
	}
	result.Events = append(result.Events, shared.NewBatchIngestFailedEvent(
		b.ID.String(), b.UploaderID.Int64(), cause.Error(),
	))

	publishEvents(h.eventPublisher, h.logger, "ingest_batch", result.Events)

	return result, nil
}
