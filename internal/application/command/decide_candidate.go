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
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DECIDE CANDIDATE COMMAND
// Applies a terminal accept/reject decision to one pending candidate.
// The candidate state flips through a conditional update, so of two
// racing decisions exactly one wins; the loser gets a conflict and
// leaves no audit record.
// ══════════════════════════════════════════════════════════════════════════════

// DecideCandidateCommand contains the data needed to decide a candidate.
type DecideCandidateCommand struct {
	// CandidateID is the candidate to decide.
	CandidateID string

	// AdminID is the Telegram id of the deciding admin. Must hold the
	// unexpired lease of the candidate's batch.
	AdminID int64

	// Verdict is the decision: "accept" or "reject".
	Verdict string
}

// Validate validates the command.
func (c DecideCandidateCommand) Validate() error {
	if c.CandidateID == "" {
		return errors.New("decide_candidate: candidate_id is required")
	}
	if c.AdminID <= 0 {
		return errors.New("decide_candidate: admin_id is required")
	}
	if !candidate.Verdict(c.Verdict).IsTerminalDecision() {
		return fmt.Errorf("decide_candidate: verdict must be %q or %q, got %q",
			candidate.VerdictAccept, candidate.VerdictReject, c.Verdict)
	}
	return nil
}

// DecideCandidateResult contains the outcome of the decision.
type DecideCandidateResult struct {
	// BatchID is the batch the decided candidate belongs to.
	BatchID string

	// State is the resulting candidate state: "approved" or "rejected".
	State string

	// PendingLeft is the number of undecided candidates remaining in
	// the batch.
	PendingLeft int

	// Total is the number of candidates in the batch.
	Total int

	// BatchCompleted is true when this was the last pending candidate
	// and the batch finished, releasing the lease.
	BatchCompleted bool

	// Events contains domain events generated during the decision.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// DecideCandidateHandler handles the DecideCandidateCommand.
type DecideCandidateHandler struct {
	uowFactory     batch.UnitOfWorkFactory
	adminRepo      admin.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	leaseTTL time.Duration
	now      func() time.Time
}

// DecideCandidateHandlerConfig contains handler configuration.
type DecideCandidateHandlerConfig struct {
	// LeaseTTL is the review lease duration. Zero means the domain default.
	LeaseTTL time.Duration

	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// DefaultDecideCandidateHandlerConfig returns the default configuration.
func DefaultDecideCandidateHandlerConfig() DecideCandidateHandlerConfig {
	return DecideCandidateHandlerConfig{
		LeaseTTL: batch.DefaultLeaseTTL,
	}
}

// NewDecideCandidateHandler creates a new decide candidate handler.
func NewDecideCandidateHandler(
	uowFactory batch.UnitOfWorkFactory,
	adminRepo admin.Repository,
	eventPublisher shared.EventPublisher,
	config DecideCandidateHandlerConfig,
) *DecideCandidateHandler {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = batch.DefaultLeaseTTL
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &DecideCandidateHandler{
		uowFactory:     uowFactory,
		adminRepo:      adminRepo,
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		leaseTTL:       config.LeaseTTL,
		now:            config.Clock,
	}
}

// Handle executes the decide candidate command.
func (h *DecideCandidateHandler) Handle(ctx context.Context, cmd DecideCandidateCommand) (*DecideCandidateResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	candidateID, err := shared.NewCandidateID(cmd.CandidateID)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: %w", err)
	}

	verdict := candidate.Verdict(cmd.Verdict)
	newState := candidate.StateRejected
	if verdict == candidate.VerdictAccept {
		newState = candidate.StateApproved
	}

	// 2. Authorize the reviewer
	reviewer, err := requireReviewer(ctx, h.adminRepo, cmd.AdminID)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: %w", err)
	}

	// 3. Open the transaction; the batch row lock serializes decisions
	// within one batch
	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: begin transaction: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	c, err := uow.Candidates().GetByID(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: %w", err)
	}

	b, err := uow.Batches().GetByIDForUpdate(ctx, c.BatchID)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: %w", err)
	}

	// 4. Account the decision on the batch: requires an unexpired lease
	// held by the caller, so no reclaim can accompany a success
	now := h.now()

	completed, _, err := b.RecordDecision(reviewer.TelegramID, newState == candidate.StateApproved, now, h.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: %w", err)
	}

	// 5. Flip the candidate. The conditional update succeeds for exactly
	// one decision; a loser backs out without touching the audit log.
	won, err := uow.Candidates().DecidePending(ctx, candidateID, newState, reviewer.TelegramID, now)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("decide_candidate: %w", shared.ErrCandidateDecided)
	}

	result := &DecideCandidateResult{
		BatchID:        b.ID.String(),
		State:          string(newState),
		PendingLeft:    b.PendingCount,
		Total:          b.TotalCount(),
		BatchCompleted: completed,
	}

	// 6. Record the mutations
	records := make([]*audit.Record, 0, 2)

	decisionRec, err := audit.CandidateStateRecord(
		c.ID.String(), audit.ActionDecision,
		string(candidate.StatePending), string(newState), reviewer.Actor(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("decide_candidate: audit: %w", err)
	}
	records = append(records, decisionRec)

	result.Events = append(result.Events, shared.NewCandidateDecidedEvent(
		c.ID.String(), b.ID.String(), cmd.AdminID, string(newState),
	))

	if completed {
		completedRec, err := audit.BatchStatusRecord(
			b.ID.String(), audit.ActionBatchCompleted,
			string(batch.StatusInReview), string(b.Status), reviewer.Actor(), now,
		)
		if err != nil {
			return nil, fmt.Errorf("decide_candidate: audit: %w", err)
		}
		records = append(records, completedRec)

		result.Events = append(result.Events, shared.NewBatchCompletedEvent(
			b.ID.String(), b.UploaderID.Int64(), cmd.AdminID,
			b.ApprovedCount, b.RejectedCount,
		))
	}

	// 7. Persist atomically
	if err := uow.Batches().Update(ctx, b); err != nil {
		return nil, fmt.Errorf("decide_candidate: update batch: %w", err)
	}
	if err := uow.Audit().SaveAll(ctx, records); err != nil {
		return nil, fmt.Errorf("decide_candidate: save audit records: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("decide_candidate: commit: %w", err)
	}

	// 8. Publish domain events (best-effort)
	publishEvents(h.eventPublisher, h.logger, "decide_candidate", result.Events)

	return result, nil
}
