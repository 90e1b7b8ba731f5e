// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven side of the pipeline.
// Each event represents something significant that happened in the domain.
const (
	// Batch events
	EventBatchSubmitted       EventType = "batch.submitted"
	EventBatchIngestRequested EventType = "batch.ingest_requested"
	EventBatchIngested        EventType = "batch.ingested"
	EventBatchIngestFailed    EventType = "batch.ingest_failed"
	EventBatchLocked          EventType = "batch.locked"
	EventBatchReleased        EventType = "batch.released"
	EventBatchCompleted       EventType = "batch.completed"
	EventBatchAbandoned       EventType = "batch.abandoned"
	EventLeaseReclaimed       EventType = "batch.lease_reclaimed"

	// Candidate events
	EventCandidateScored  EventType = "candidate.scored"
	EventCandidateDecided EventType = "candidate.decided"

	// Moderation degradation events
	EventScorerDegraded EventType = "scorer.degraded"

	// Admin events
	EventAdminPromoted    EventType = "admin.promoted"
	EventAccessCodeIssued EventType = "admin.code_issued"

	// Notification events
	EventNotificationSent   EventType = "notification.sent"
	EventNotificationFailed EventType = "notification.failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Batch Events
// ═══════════════════════════════════════════════════════════════════════════

// BatchSubmittedEvent is emitted when an uploader submits a new batch.
// The ingest pipeline reacts to it by extracting and scoring candidates.
type BatchSubmittedEvent struct {
	BaseEvent
	UploaderID   int64  `json:"uploader_id"`
	TopicID      int64  `json:"topic_id"`
	DocumentKind string `json:"document_kind"`
}

// Payload implements Event interface.
func (e BatchSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"uploader_id":   e.UploaderID,
		"topic_id":      e.TopicID,
		"document_kind": e.DocumentKind,
	}
}

// NewBatchSubmittedEvent creates a new BatchSubmittedEvent.
func NewBatchSubmittedEvent(batchID string, uploaderID, topicID int64, documentKind string) BatchSubmittedEvent {
	return BatchSubmittedEvent{
		BaseEvent:    NewBaseEvent(EventBatchSubmitted, batchID),
		UploaderID:   uploaderID,
		TopicID:      topicID,
		DocumentKind: documentKind,
	}
}

// BatchIngestRequestedEvent is emitted when a submission defers ingest to the
// background pipeline. The document body rides only on the typed event within
// the accepting process: Payload carries sizes, not content, so the event can
// cross a broker without dragging the raw upload along.
type BatchIngestRequestedEvent struct {
	BaseEvent
	UploaderID   int64  `json:"uploader_id"`
	TopicID      int64  `json:"topic_id"`
	DocumentKind string `json:"document_kind"`
	Filename     string `json:"filename,omitempty"`
	Text         string `json:"-"`
	Content      []byte `json:"-"`
}

// Payload implements Event interface.
func (e BatchIngestRequestedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"uploader_id":   e.UploaderID,
		"topic_id":      e.TopicID,
		"document_kind": e.DocumentKind,
		"filename":      e.Filename,
		"text_bytes":    len(e.Text),
		"content_bytes": len(e.Content),
	}
}

// NewBatchIngestRequestedEvent creates a new BatchIngestRequestedEvent.
func NewBatchIngestRequestedEvent(batchID string, uploaderID, topicID int64, documentKind, filename, text string, content []byte) BatchIngestRequestedEvent {
	return BatchIngestRequestedEvent{
		BaseEvent:    NewBaseEvent(EventBatchIngestRequested, batchID),
		UploaderID:   uploaderID,
		TopicID:      topicID,
		DocumentKind: documentKind,
		Filename:     filename,
		Text:         text,
		Content:      content,
	}
}

// BatchIngestedEvent is emitted when extraction and scoring finished and the
// batch holds its scored candidates.
type BatchIngestedEvent struct {
	BaseEvent
	UploaderID    int64 `json:"uploader_id"`
	TopicID       int64 `json:"topic_id"`
	CandidateRows int   `json:"candidate_rows"`
	FlaggedRows   int   `json:"flagged_rows"`
	RejectedRows  int   `json:"rejected_rows"`
	Degraded      bool  `json:"degraded"`
}

// Payload implements Event interface.
func (e BatchIngestedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"uploader_id":    e.UploaderID,
		"topic_id":       e.TopicID,
		"candidate_rows": e.CandidateRows,
		"flagged_rows":   e.FlaggedRows,
		"rejected_rows":  e.RejectedRows,
		"degraded":       e.Degraded,
	}
}

// NewBatchIngestedEvent creates a new BatchIngestedEvent.
func NewBatchIngestedEvent(batchID string, uploaderID, topicID int64, total, flagged, rejected int, degraded bool) BatchIngestedEvent {
	return BatchIngestedEvent{
		BaseEvent:     NewBaseEvent(EventBatchIngested, batchID),
		UploaderID:    uploaderID,
		TopicID:       topicID,
		CandidateRows: total,
		FlaggedRows:   flagged,
		RejectedRows:  rejected,
		Degraded:      degraded,
	}
}

// BatchIngestFailedEvent is emitted when the ingest pipeline could not produce
// any candidate for a submitted batch.
type BatchIngestFailedEvent struct {
	BaseEvent
	UploaderID int64  `json:"uploader_id"`
	Reason     string `json:"reason"`
}

// Payload implements Event interface.
func (e BatchIngestFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"uploader_id": e.UploaderID,
		"reason":      e.Reason,
	}
}

// NewBatchIngestFailedEvent creates a new BatchIngestFailedEvent.
func NewBatchIngestFailedEvent(batchID string, uploaderID int64, reason string) BatchIngestFailedEvent {
	return BatchIngestFailedEvent{
		BaseEvent:  NewBaseEvent(EventBatchIngestFailed, batchID),
		UploaderID: uploaderID,
		Reason:     reason,
	}
}

// BatchLockedEvent is emitted when an admin acquires the review lease.
type BatchLockedEvent struct {
	BaseEvent
	AdminID   int64     `json:"admin_id"`
	Refreshed bool      `json:"refreshed"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Payload implements Event interface.
func (e BatchLockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"admin_id":   e.AdminID,
		"refreshed":  e.Refreshed,
		"expires_at": e.ExpiresAt,
	}
}

// NewBatchLockedEvent creates a new BatchLockedEvent.
func NewBatchLockedEvent(batchID string, adminID int64, refreshed bool, expiresAt time.Time) BatchLockedEvent {
	return BatchLockedEvent{
		BaseEvent: NewBaseEvent(EventBatchLocked, batchID),
		AdminID:   adminID,
		Refreshed: refreshed,
		ExpiresAt: expiresAt,
	}
}

// BatchReleasedEvent is emitted when the holder releases the lease and
// pending candidates remain.
type BatchReleasedEvent struct {
	BaseEvent
	AdminID      int64 `json:"admin_id"`
	PendingCount int   `json:"pending_count"`
}

// Payload implements Event interface.
func (e BatchReleasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"admin_id":      e.AdminID,
		"pending_count": e.PendingCount,
	}
}

// NewBatchReleasedEvent creates a new BatchReleasedEvent.
func NewBatchReleasedEvent(batchID string, adminID int64, pendingCount int) BatchReleasedEvent {
	return BatchReleasedEvent{
		BaseEvent:    NewBaseEvent(EventBatchReleased, batchID),
		AdminID:      adminID,
		PendingCount: pendingCount,
	}
}

// BatchCompletedEvent is emitted when the last pending candidate is decided
// or when an empty batch is released.
type BatchCompletedEvent struct {
	BaseEvent
	UploaderID int64 `json:"uploader_id"`
	ReviewerID int64 `json:"reviewer_id"`
	Approved   int   `json:"approved"`
	Rejected   int   `json:"rejected"`
}

// Payload implements Event interface.
func (e BatchCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"uploader_id": e.UploaderID,
		"reviewer_id": e.ReviewerID,
		"approved":    e.Approved,
		"rejected":    e.Rejected,
	}
}

// NewBatchCompletedEvent creates a new BatchCompletedEvent.
func NewBatchCompletedEvent(batchID string, uploaderID, reviewerID int64, approved, rejected int) BatchCompletedEvent {
	return BatchCompletedEvent{
		BaseEvent:  NewBaseEvent(EventBatchCompleted, batchID),
		UploaderID: uploaderID,
		ReviewerID: reviewerID,
		Approved:   approved,
		Rejected:   rejected,
	}
}

// BatchAbandonedEvent is emitted when a batch is irreversibly abandoned.
type BatchAbandonedEvent struct {
	BaseEvent
	ActorID int64  `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e BatchAbandonedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"actor_id": e.ActorID,
		"reason":   e.Reason,
	}
}

// NewBatchAbandonedEvent creates a new BatchAbandonedEvent.
func NewBatchAbandonedEvent(batchID string, actorID int64, reason string) BatchAbandonedEvent {
	return BatchAbandonedEvent{
		BaseEvent: NewBaseEvent(EventBatchAbandoned, batchID),
		ActorID:   actorID,
		Reason:    reason,
	}
}

// LeaseReclaimedEvent is emitted when an expired lease is observed and
// treated as released. Informational; stale leases are never an error.
type LeaseReclaimedEvent struct {
	BaseEvent
	PreviousHolder int64     `json:"previous_holder"`
	LockedAt       time.Time `json:"locked_at"`
	ObservedBy     int64     `json:"observed_by"`
}

// Payload implements Event interface.
func (e LeaseReclaimedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_holder": e.PreviousHolder,
		"locked_at":       e.LockedAt,
		"observed_by":     e.ObservedBy,
	}
}

// NewLeaseReclaimedEvent creates a new LeaseReclaimedEvent.
func NewLeaseReclaimedEvent(batchID string, previousHolder, observedBy int64, lockedAt time.Time) LeaseReclaimedEvent {
	return LeaseReclaimedEvent{
		BaseEvent:      NewBaseEvent(EventLeaseReclaimed, batchID),
		PreviousHolder: previousHolder,
		LockedAt:       lockedAt,
		ObservedBy:     observedBy,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Candidate Events
// ═══════════════════════════════════════════════════════════════════════════

// CandidateScoredEvent is emitted when the moderator assigned score+verdict.
type CandidateScoredEvent struct {
	BaseEvent
	BatchID   string `json:"batch_id"`
	Score     int    `json:"score"`
	Verdict   string `json:"verdict"`
	Heuristic bool   `json:"heuristic"`
}

// Payload implements Event interface.
func (e CandidateScoredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"batch_id":  e.BatchID,
		"score":     e.Score,
		"verdict":   e.Verdict,
		"heuristic": e.Heuristic,
	}
}

// NewCandidateScoredEvent creates a new CandidateScoredEvent.
func NewCandidateScoredEvent(candidateID, batchID string, score int, verdict string, heuristic bool) CandidateScoredEvent {
	return CandidateScoredEvent{
		BaseEvent: NewBaseEvent(EventCandidateScored, candidateID),
		BatchID:   batchID,
		Score:     score,
		Verdict:   verdict,
		Heuristic: heuristic,
	}
}

// CandidateDecidedEvent is emitted when an admin issued a terminal decision.
type CandidateDecidedEvent struct {
	BaseEvent
	BatchID string `json:"batch_id"`
	AdminID int64  `json:"admin_id"`
	State   string `json:"state"`
}

// Payload implements Event interface.
func (e CandidateDecidedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"batch_id": e.BatchID,
		"admin_id": e.AdminID,
		"state":    e.State,
	}
}

// NewCandidateDecidedEvent creates a new CandidateDecidedEvent.
func NewCandidateDecidedEvent(candidateID, batchID string, adminID int64, state string) CandidateDecidedEvent {
	return CandidateDecidedEvent{
		BaseEvent: NewBaseEvent(EventCandidateDecided, candidateID),
		BatchID:   batchID,
		AdminID:   adminID,
		State:     state,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Degradation Events
// ═══════════════════════════════════════════════════════════════════════════

// ScorerDegradedEvent is emitted when the external scorer failed and the
// heuristic result was substituted for a candidate.
type ScorerDegradedEvent struct {
	BaseEvent
	BatchID string `json:"batch_id"`
	Cause   string `json:"cause"`
}

// Payload implements Event interface.
func (e ScorerDegradedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"batch_id": e.BatchID,
		"cause":    e.Cause,
	}
}

// NewScorerDegradedEvent creates a new ScorerDegradedEvent.
func NewScorerDegradedEvent(candidateID, batchID, cause string) ScorerDegradedEvent {
	return ScorerDegradedEvent{
		BaseEvent: NewBaseEvent(EventScorerDegraded, candidateID),
		BatchID:   batchID,
		Cause:     cause,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Admin Events
// ═══════════════════════════════════════════════════════════════════════════

// AdminPromotedEvent is emitted when an access code redemption grants the
// admin role.
type AdminPromotedEvent struct {
	BaseEvent
	PromotedBy   int64 `json:"promoted_by"`
	UniversityID int64 `json:"university_id,omitempty"`
	CourseID     int64 `json:"course_id,omitempty"`
}

// Payload implements Event interface.
func (e AdminPromotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"promoted_by":   e.PromotedBy,
		"university_id": e.UniversityID,
		"course_id":     e.CourseID,
	}
}

// NewAdminPromotedEvent creates a new AdminPromotedEvent.
func NewAdminPromotedEvent(adminID string, promotedBy, universityID, courseID int64) AdminPromotedEvent {
	return AdminPromotedEvent{
		BaseEvent:    NewBaseEvent(EventAdminPromoted, adminID),
		PromotedBy:   promotedBy,
		UniversityID: universityID,
		CourseID:     courseID,
	}
}

// AccessCodeIssuedEvent is emitted when a super admin mints a one-time
// access code. The plaintext code never enters the payload.
type AccessCodeIssuedEvent struct {
	BaseEvent
	IssuerID  int64     `json:"issuer_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Payload implements Event interface.
func (e AccessCodeIssuedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"issuer_id":  e.IssuerID,
		"expires_at": e.ExpiresAt,
	}
}

// NewAccessCodeIssuedEvent creates a new AccessCodeIssuedEvent.
func NewAccessCodeIssuedEvent(codeID string, issuerID int64, expiresAt time.Time) AccessCodeIssuedEvent {
	return AccessCodeIssuedEvent{
		BaseEvent: NewBaseEvent(EventAccessCodeIssued, codeID),
		IssuerID:  issuerID,
		ExpiresAt: expiresAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
