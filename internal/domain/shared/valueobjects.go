// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// TelegramID represents a unique Telegram user identifier.
// Uploaders and admins are identified by their Telegram id throughout
// the pipeline.
type TelegramID int64

// IsValid checks if the Telegram ID is valid (positive number).
func (t TelegramID) IsValid() bool {
	return t > 0
}

// Int64 returns the underlying int64 value.
func (t TelegramID) Int64() int64 {
	return int64(t)
}

// String returns the string representation.
func (t TelegramID) String() string {
	return fmt.Sprintf("%d", t)
}

// NewTelegramID creates a new TelegramID with validation.
func NewTelegramID(id int64) (TelegramID, error) {
	if id <= 0 {
		return 0, NewDomainError("shared", "NewTelegramID", ErrInvalidID, "telegram id must be positive")
	}
	return TelegramID(id), nil
}

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// BatchID represents a unique upload-batch identifier (UUID format).
type BatchID string

// IsValid checks if the batch ID is a valid UUID.
func (b BatchID) IsValid() bool {
	return uuidRegex.MatchString(string(b))
}

// String returns the string representation.
func (b BatchID) String() string {
	return string(b)
}

// IsEmpty checks if the ID is empty.
func (b BatchID) IsEmpty() bool {
	return b == ""
}

// NewBatchID creates a new BatchID with validation.
func NewBatchID(id string) (BatchID, error) {
	bid := BatchID(strings.ToLower(strings.TrimSpace(id)))
	if !bid.IsValid() {
		return "", NewDomainError("shared", "NewBatchID", ErrInvalidID, "invalid batch ID format")
	}
	return bid, nil
}

// CandidateID represents a unique candidate-question identifier (UUID format).
type CandidateID string

// IsValid checks if the candidate ID is a valid UUID.
func (c CandidateID) IsValid() bool {
	return uuidRegex.MatchString(string(c))
}

// String returns the string representation.
func (c CandidateID) String() string {
	return string(c)
}

// IsEmpty checks if the ID is empty.
func (c CandidateID) IsEmpty() bool {
	return c == ""
}

// NewCandidateID creates a new CandidateID with validation.
func NewCandidateID(id string) (CandidateID, error) {
	cid := CandidateID(strings.ToLower(strings.TrimSpace(id)))
	if !cid.IsValid() {
		return "", NewDomainError("shared", "NewCandidateID", ErrInvalidID, "invalid candidate ID format")
	}
	return cid, nil
}

// TopicID represents a curriculum topic identifier.
// Topics are seeded reference data with small integer keys.
type TopicID int64

// IsValid checks if the topic ID is valid.
func (t TopicID) IsValid() bool {
	return t > 0
}

// Int64 returns the underlying int64 value.
func (t TopicID) Int64() int64 {
	return int64(t)
}

// String returns the string representation.
func (t TopicID) String() string {
	return fmt.Sprintf("%d", t)
}

// ═══════════════════════════════════════════════════════════════════════════
// ID Generation Port
// ═══════════════════════════════════════════════════════════════════════════

// IDGenerator produces new unique identifiers for batches, candidates,
// and audit records. Implemented in infrastructure (UUID v4).
type IDGenerator interface {
	NewID() string
}

// ═══════════════════════════════════════════════════════════════════════════
// Actor Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Role defines the privilege tier of a pipeline actor.
type Role string

const (
	// RoleStudent can submit nothing and review nothing; quiz delivery only.
	RoleStudent Role = "student"
	// RoleAdmin can upload material and review batches within scope.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin reviews without scope restriction and manages access codes.
	RoleSuperAdmin Role = "super_admin"
	// RoleSystem marks mutations performed by the pipeline itself,
	// such as auto-rejection at ingest time.
	RoleSystem Role = "system"
)

// IsValid checks if the role is one of the known tiers.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleAdmin, RoleSuperAdmin, RoleSystem:
		return true
	default:
		return false
	}
}

// CanReview returns true if the role may work the review queue.
func (r Role) CanReview() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CanUpload returns true if the role may submit upload batches.
func (r Role) CanUpload() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IsElevated returns true if the role bypasses scope restrictions.
func (r Role) IsElevated() bool {
	return r == RoleSuperAdmin
}

// Actor identifies who is performing a pipeline operation. Every mutating
// operation carries an explicit Actor; nothing is taken from ambient state.
type Actor struct {
	// ID is the Telegram id of the acting user.
	ID TelegramID

	// Role is the actor's privilege tier at call time.
	Role Role
}

// IsValid checks that the actor carries a usable identity.
// The system actor is valid despite carrying no Telegram id.
func (a Actor) IsValid() bool {
	if a.Role == RoleSystem {
		return true
	}
	return a.ID.IsValid() && a.Role.IsValid()
}

// IsSystem returns true for mutations performed by the pipeline itself.
func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

// String returns a log-friendly representation.
func (a Actor) String() string {
	if a.IsSystem() {
		return string(RoleSystem)
	}
	return fmt.Sprintf("%s(%d)", a.Role, a.ID)
}

// NewActor creates a validated Actor.
func NewActor(id int64, role Role) (Actor, error) {
	if role == RoleSystem {
		return SystemActor(), nil
	}
	tid, err := NewTelegramID(id)
	if err != nil {
		return Actor{}, err
	}
	if !role.IsValid() {
		return Actor{}, NewDomainError("shared", "NewActor", ErrInvalidInput, "unknown role")
	}
	return Actor{ID: tid, Role: role}, nil
}

// SystemActor returns the actor recorded for pipeline-initiated mutations.
func SystemActor() Actor {
	return Actor{ID: 0, Role: RoleSystem}
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a time period.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return (tm.Equal(t.From) || tm.After(t.From)) && (tm.Equal(t.To) || tm.Before(t.To))
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// LastNDays returns a TimeRange for the last N days.
func LastNDays(n int) TimeRange {
	now := time.Now().UTC()
	return TimeRange{
		From: now.AddDate(0, 0, -n),
		To:   now,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// DefaultPagination returns default pagination.
func DefaultPagination() Pagination {
	return NewPagination(1, DefaultPageSize)
}
