// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
// Every mutation of a batch or a candidate commits its audit records
// in the same transaction.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT BATCH COMMAND
// Turns an uploaded document into a batch of scored candidates:
// recognition, extraction, moderation and persistence in one pass - or,
// in deferred mode, records the draft and hands the document to the
// background ingest pipeline.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitBatchCommand contains the data needed to ingest an upload.
type SubmitBatchCommand struct {
	// UploaderID is the Telegram id of the uploading admin.
	UploaderID int64

	// TopicID is the curriculum topic the material belongs to.
	TopicID int64

	// Kind is the document kind: "text", "pdf" or "photo".
	Kind string

	// Text is the document text for Kind "text".
	Text string

	// Content is the raw document bytes for Kind "pdf" or "photo".
	Content []byte

	// Filename is the original filename, if any. Passed to the
	// recognition backend as a format hint.
	Filename string

	// SourceRef is the Telegram file id of the uploaded document
	// (empty for plain text submissions).
	SourceRef string
}

// Validate validates the command.
func (c SubmitBatchCommand) Validate() error {
	if c.UploaderID <= 0 {
		return errors.New("submit_batch: uploader_id is required")
	}

	if c.TopicID <= 0 {
		return errors.New("submit_batch: topic_id is required")
	}

	kind := batch.SourceKind(c.Kind)
	if !kind.IsValid() {
		return fmt.Errorf("submit_batch: unknown document kind %q", c.Kind)
	}

	if kind == batch.SourceText && strings.TrimSpace(c.Text) == "" {
		return errors.New("submit_batch: text submission is empty")
	}

	if kind != batch.SourceText && len(c.Content) == 0 {
		return errors.New("submit_batch: document content is empty")
	}

	return nil
}

// SubmitBatchResult contains the outcome of the ingest.
type SubmitBatchResult struct {
	// BatchID is the id of the created batch.
	BatchID string

	// Queued is true when ingest was deferred to the background
	// pipeline. The counters below stay zero; the uploader gets the
	// full summary once the ingest event fires.
	Queued bool

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

	// Truncated is true when the document held more candidates than the
	// per-batch limit and the tail was skipped.
	Truncated bool

	// Degraded is true when at least one candidate was scored by the
	// heuristic because the external scorer failed.
	Degraded bool

	// Completed is true when every candidate was auto-rejected and the
	// batch finished without review.
	Completed bool

	// IngestFailed is true when the document produced no candidates.
	// The batch is still recorded, in the abandoned status.
	IngestFailed bool

	// FailureReason explains a failed ingest.
	FailureReason string

	// SubmittedAt is when the batch was created.
	SubmittedAt time.Time

	// Events contains domain events generated during ingest.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// RecognizedText is the plain-text view of an uploaded document.
type RecognizedText struct {
	// Text is the recognized text of the whole document.
	Text string

	// Pages is the number of processed pages (1 for photos).
	Pages int

	// Confidence is the mean recognition confidence in [0, 1].
	Confidence float64
}

// TextRecognizer defines the interface for document text recognition.
type TextRecognizer interface {
	// Recognize extracts plain text from a PDF or photo document.
	Recognize(ctx context.Context, kind batch.SourceKind, content []byte, filename string) (RecognizedText, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitBatchHandler handles the SubmitBatchCommand.
type SubmitBatchHandler struct {
	uowFactory     batch.UnitOfWorkFactory
	adminRepo      admin.Repository
	topics         curriculum.Repository
	ingest         ingestDeps
	ids            shared.IDGenerator
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	asyncIngest bool
	now         func() time.Time
}

// SubmitBatchHandlerConfig contains handler configuration.
type SubmitBatchHandlerConfig struct {
	// MaxCandidates caps the number of candidates per batch. Blocks past
	// the cap are skipped and reported as truncation.
	MaxCandidates int

	// AsyncIngest defers recognition, extraction and moderation to the
	// background ingest pipeline: the submission only records the draft
	// batch and emits batch.ingest_requested.
	AsyncIngest bool

	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// DefaultSubmitBatchHandlerConfig returns the default configuration.
func DefaultSubmitBatchHandlerConfig() SubmitBatchHandlerConfig {
	return SubmitBatchHandlerConfig{
		MaxCandidates: 100,
	}
}

// NewSubmitBatchHandler creates a new submit batch handler.
func NewSubmitBatchHandler(
	uowFactory batch.UnitOfWorkFactory,
	adminRepo admin.Repository,
	topics curriculum.Repository,
	recognizer TextRecognizer,
	moderator *candidate.Moderator,
	ids shared.IDGenerator,
	eventPublisher shared.EventPublisher,
	config SubmitBatchHandlerConfig,
) *SubmitBatchHandler {
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultSubmitBatchHandlerConfig().MaxCandidates
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &SubmitBatchHandler{
		uowFactory: uowFactory,
		adminRepo:  adminRepo,
		topics:     topics,
		ingest: ingestDeps{
			recognizer:    recognizer,
			moderator:     moderator,
			ids:           ids,
			maxCandidates: config.MaxCandidates,
		},
		ids:            ids,
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		asyncIngest:    config.AsyncIngest,
		now:            config.Clock,
	}
}

// Handle executes the submit batch command.
func (h *SubmitBatchHandler) Handle(ctx context.Context, cmd SubmitBatchCommand) (*SubmitBatchResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// 2. Authorize the uploader
	uploader, err := requireUploader(ctx, h.adminRepo, cmd.UploaderID)
	if err != nil {
		return nil, fmt.Errorf("submit_batch: %w", err)
	}

	// 3. Resolve the topic
	topic, err := h.topics.GetTopic(ctx, shared.TopicID(cmd.TopicID))
	if err != nil {
		return nil, fmt.Errorf("submit_batch: resolve topic %d: %w", cmd.TopicID, err)
	}

	// 4. Create the batch
	kind := batch.SourceKind(cmd.Kind)
	now := h.now()

	batchID, err := shared.NewBatchID(h.ids.NewID())
	if err != nil {
		return nil, fmt.Errorf("submit_batch: generate batch id: %w", err)
	}

	b, err := batch.NewBatch(batch.NewBatchParams{
		ID:         batchID,
		UploaderID: uploader.TelegramID,
		TopicID:    topic.ID,
		SourceKind: kind,
		SourceRef:  cmd.SourceRef,
	})
	if err != nil {
		return nil, fmt.Errorf("submit_batch: create batch: %w", err)
	}

	result := &SubmitBatchResult{
		BatchID:     b.ID.String(),
		SubmittedAt: now,
	}

	records := make([]*audit.Record, 0, 4)

	submittedRec, err := audit.BatchStatusRecord(
		b.ID.String(), audit.ActionBatchSubmitted,
		"", string(b.Status), uploader.Actor(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("submit_batch: audit: %w", err)
	}
	records = append(records, submittedRec)

	result.Events = append(result.Events, shared.NewBatchSubmittedEvent(
		b.ID.String(), uploader.TelegramID.Int64(), topic.ID.Int64(), string(kind),
	))

	in := ingestInput{
		Kind:     kind,
		Text:     cmd.Text,
		Content:  cmd.Content,
		Filename: cmd.Filename,
	}

	// 5a. Deferred mode: persist the draft and hand the document to the
	// ingest pipeline. Recognition and moderation run off the hot path.
	if h.asyncIngest {
		if err := h.persist(ctx, b, nil, records); err != nil {
			return nil, fmt.Errorf("submit_batch: %w", err)
		}

		result.Queued = true
		result.Events = append(result.Events, shared.NewBatchIngestRequestedEvent(
			b.ID.String(), uploader.TelegramID.Int64(), topic.ID.Int64(),
			string(kind), cmd.Filename, cmd.Text, cmd.Content,
		))

		publishEvents(h.eventPublisher, h.logger, "submit_batch", result.Events)
		return result, nil
	}

	// 5b. Synchronous mode: run the full ingest now.
	outcome, err := runIngest(ctx, h.ingest, b, uploader.TelegramID.Int64(), topic.Name, in, now)
	if err != nil {
		return nil, fmt.Errorf("submit_batch: %w", err)
	}

	records = append(records, outcome.Records...)
	result.applyIngest(outcome)

	// 6. Persist batch, candidates and audit records atomically
	if err := h.persist(ctx, b, outcome.Candidates, records); err != nil {
		return nil, fmt.Errorf("submit_batch: %w", err)
	}

	// 7. Publish domain events (best-effort - failures must not undo
	// a committed ingest)
	publishEvents(h.eventPublisher, h.logger, "submit_batch", result.Events)

	return result, nil
}

// applyIngest merges an ingest outcome into the submission result.
func (r *SubmitBatchResult) applyIngest(out *ingestOutcome) {
	r.Total = out.Total
	r.Pending = out.Pending
	r.Flagged = out.Flagged
	r.AutoRejected = out.AutoRejected
	r.Malformed = out.Malformed
	r.Truncated = out.Truncated
	r.Degraded = out.Degraded
	r.Completed = out.Completed
	r.IngestFailed = out.Failed
	r.FailureReason = out.FailureReason
	r.Events = append(r.Events, out.Events...)
}

// ══════════════════════════════════════════════════════════════════════════════
// INGEST PIPELINE
// Shared by the synchronous submission path and the deferred
// IngestBatchHandler: recognition, extraction, moderation and the
// resulting state transition of the batch.
// ══════════════════════════════════════════════════════════════════════════════

// ingestDeps bundles the collaborators of the ingest pipeline.
type ingestDeps struct {
	recognizer    TextRecognizer
	moderator     *candidate.Moderator
	ids           shared.IDGenerator
	maxCandidates int
}

// ingestInput describes the document to ingest.
type ingestInput struct {
	Kind     batch.SourceKind
	Text     string
	Content  []byte
	Filename string
}

// ingestOutcome is what an ingest run produced. Candidates and Records
// still have to be persisted together with the mutated batch.
type ingestOutcome struct {
	Candidates []*candidate.Candidate
	Records    []*audit.Record
	Events     []shared.Event

	Total        int
	Pending      int
	Flagged      int
	AutoRejected int
	Malformed    int

	Truncated bool
	Degraded  bool
	Completed bool

	// Failed is true when the document produced no candidates: the
	// batch has been abandoned and FailureReason explains why.
	Failed        bool
	FailureReason string
}

// runIngest executes the ingest pipeline against a draft batch. The
// batch is mutated in place (ingested, completed or abandoned); the
// caller persists it together with the returned candidates and records.
// A hard error (recognition backend down, audit failure) leaves the
// batch untouched and nothing to persist.
func runIngest(
	ctx context.Context,
	deps ingestDeps,
	b *batch.UploadBatch,
	uploaderID int64,
	topicName string,
	in ingestInput,
	now time.Time,
) (*ingestOutcome, error) {
	out := &ingestOutcome{}

	// 1. Obtain the document text
	text, recognitionConfidence, err := deps.documentText(ctx, in)
	if err != nil {
		return nil, err
	}

	// 2. Extract candidates
	candidates, malformed, truncated, err := deps.extract(b, text, recognitionConfidence)
	if err != nil && !errors.Is(err, candidate.ErrNoCandidates) {
		return nil, err
	}

	out.Malformed = malformed
	out.Truncated = truncated

	if len(candidates) == 0 {
		if err := out.recordFailure(b, uploaderID, now); err != nil {
			return nil, err
		}
		return out, nil
	}

	// 3. Moderate every candidate. Moderation never blocks the ingest:
	// a scorer failure degrades to the heuristic and is recorded.
	pending, autoRejected := 0, 0

	for _, c := range candidates {
		assessment, err := deps.moderator.ModerateAndApply(ctx, c, topicName, now)
		if err != nil {
			return nil, fmt.Errorf("moderate candidate: %w", err)
		}

		if assessment.Degraded() {
			out.Degraded = true

			notice, err := audit.ModerationNoticeRecord(c.ID.String(), assessment.Cause.Error(), now)
			if err != nil {
				return nil, fmt.Errorf("audit: %w", err)
			}
			out.Records = append(out.Records, notice)

			out.Events = append(out.Events, shared.NewScorerDegradedEvent(
				c.ID.String(), b.ID.String(), assessment.Cause.Error(),
			))
		}

		switch {
		case c.State == candidate.StateRejected:
			autoRejected++

			rejectRec, err := audit.CandidateStateRecord(
				c.ID.String(), audit.ActionAutoReject,
				string(candidate.StatePending), string(candidate.StateRejected),
				shared.SystemActor(), now,
			)
			if err != nil {
				return nil, fmt.Errorf("audit: %w", err)
			}
			out.Records = append(out.Records, rejectRec)

		default:
			pending++
			if c.Verdict == candidate.VerdictFlag {
				out.Flagged++
			}
		}

		out.Events = append(out.Events, shared.NewCandidateScoredEvent(
			c.ID.String(), b.ID.String(), c.Score.Int(), string(c.Verdict), c.Heuristic,
		))
	}

	out.Candidates = candidates
	out.Total = len(candidates)
	out.Pending = pending
	out.AutoRejected = autoRejected

	// 4. Apply the ingest outcome to the batch
	oldStatus := b.Status

	completed, err := b.SetIngestResult(pending, autoRejected, out.Degraded, now)
	if err != nil {
		return nil, err
	}
	out.Completed = completed

	ingestedRec, err := audit.BatchStatusRecord(
		b.ID.String(), audit.ActionBatchIngested,
		string(oldStatus), string(b.Status), shared.SystemActor(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	out.Records = append(out.Records, ingestedRec)

	out.Events = append(out.Events, shared.NewBatchIngestedEvent(
		b.ID.String(), uploaderID, b.TopicID.Int64(),
		out.Total, out.Flagged, out.AutoRejected, out.Degraded,
	))
	if completed {
		out.Events = append(out.Events, shared.NewBatchCompletedEvent(
			b.ID.String(), uploaderID, 0, 0, out.AutoRejected,
		))
	}

	return out, nil
}

// recordFailure abandons a batch whose document produced nothing. The
// attempt stays on record: the batch is abandoned, not discarded.
func (out *ingestOutcome) recordFailure(b *batch.UploadBatch, uploaderID int64, now time.Time) error {
	reason := "document produced no parseable candidates"

	oldStatus := b.Status
	if err := b.Abandon(now); err != nil {
		return err
	}

	abandonedRec, err := audit.BatchStatusRecord(
		b.ID.String(), audit.ActionBatchAbandoned,
		string(oldStatus), string(b.Status), shared.SystemActor(), now,
	)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	out.Records = append(out.Records, abandonedRec)

	out.Failed = true
	out.FailureReason = reason

	out.Events = append(out.Events, shared.NewBatchIngestFailedEvent(
		b.ID.String(), uploaderID, reason,
	))

	return nil
}

// documentText returns the plain text of the submission and the
// recognition confidence (1.0 for plain text).
func (deps ingestDeps) documentText(ctx context.Context, in ingestInput) (string, float64, error) {
	if !in.Kind.NeedsOCR() {
		return in.Text, 1.0, nil
	}

	if deps.recognizer == nil {
		return "", 0, fmt.Errorf("%w: no recognizer configured", shared.ErrUnsupportedDocument)
	}

	recognized, err := deps.recognizer.Recognize(ctx, in.Kind, in.Content, in.Filename)
	if err != nil {
		return "", 0, fmt.Errorf("recognize document: %w", err)
	}

	return recognized.Text, candidate.ClampConfidence(recognized.Confidence), nil
}

// extract runs the block extractor over the document text and builds
// candidate entities. The extraction confidence of each block is scaled
// by the recognition confidence, so a poorly recognized document cannot
// reach the accept verdict without manual review.
func (deps ingestDeps) extract(b *batch.UploadBatch, text string, recognitionConfidence float64) ([]*candidate.Candidate, int, bool, error) {
	extractor := candidate.NewExtractor(text)

	candidates := make([]*candidate.Candidate, 0, 16)
	truncated := false

	for extractor.Next() {
		if len(candidates) >= deps.maxCandidates {
			truncated = true
			break
		}

		extracted := extractor.Candidate()

		candidateID, err := shared.NewCandidateID(deps.ids.NewID())
		if err != nil {
			return nil, 0, false, fmt.Errorf("generate candidate id: %w", err)
		}

		c, err := candidate.NewCandidate(candidate.NewCandidateParams{
			ID:           candidateID,
			BatchID:      b.ID,
			TopicID:      b.TopicID,
			Text:         extracted.Text,
			Options:      extracted.Options,
			CorrectIndex: extracted.CorrectIndex,
			Explanation:  extracted.Explanation,
			Confidence:   extracted.Confidence * recognitionConfidence,
		})
		if err != nil {
			// A block that parsed but fails entity validation counts as
			// malformed, same as an unparseable one.
			continue
		}

		candidates = append(candidates, c)
	}

	malformed := len(extractor.Malformed()) + (extractor.Yielded() - len(candidates))
	if truncated {
		malformed = len(extractor.Malformed())
	}

	return candidates, malformed, truncated, extractor.Err()
}

// persist writes the batch, its candidates and the audit records in a
// single transaction.
func (h *SubmitBatchHandler) persist(ctx context.Context, b *batch.UploadBatch, candidates []*candidate.Candidate, records []*audit.Record) error {
	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	if err := uow.Batches().Save(ctx, b); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}

	if len(candidates) > 0 {
		if err := uow.Candidates().SaveAll(ctx, candidates); err != nil {
			return fmt.Errorf("save candidates: %w", err)
		}
	}

	if err := uow.Audit().SaveAll(ctx, records); err != nil {
		return fmt.Errorf("save audit records: %w", err)
	}

	return uow.Commit(ctx)
}
