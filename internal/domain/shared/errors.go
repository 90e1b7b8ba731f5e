// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrTerminalState   = errors.New("entity is in a terminal state")
	ErrExpired         = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrLockConflict       = errors.New("lock held by another admin")
	ErrNotOwner           = errors.New("caller does not hold the lock")
	ErrStaleLease         = errors.New("lease expired and was reclaimed")
	ErrDecisionConflict   = errors.New("candidate already decided")
	ErrOptimisticConflict = errors.New("concurrent modification detected")

	// Extraction errors
	ErrExtraction          = errors.New("extraction failed")
	ErrUnsupportedDocument = errors.New("unsupported document type")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "batch", "candidate", "audit"
	Op      string // Operation that failed, e.g., "AcquireLock", "Decide"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Batch domain errors
var (
	ErrBatchNotFound      = NewDomainError("batch", "Find", ErrNotFound, "upload batch not found")
	ErrBatchAlreadyExists = NewDomainError("batch", "Create", ErrAlreadyExists, "upload batch already exists")
	ErrBatchTerminal      = NewDomainError("batch", "Mutate", ErrTerminalState, "batch is completed or abandoned")
	ErrBatchLockConflict  = NewDomainError("batch", "AcquireLock", ErrLockConflict, "batch is locked by another admin")
	ErrBatchNotOwner      = NewDomainError("batch", "ReleaseLock", ErrNotOwner, "batch lock is held by someone else")
	ErrInvalidBatchStatus = NewDomainError("batch", "Validate", ErrInvalidState, "invalid batch status")
	ErrBatchNotLocked     = NewDomainError("batch", "CheckLock", ErrInvalidState, "batch is not locked")
	ErrBatchHasNoUploader = NewDomainError("batch", "Validate", ErrInvalidID, "batch uploader is required")
)

// Candidate domain errors
var (
	ErrCandidateNotFound  = NewDomainError("candidate", "Find", ErrNotFound, "candidate not found")
	ErrCandidateDecided   = NewDomainError("candidate", "Decide", ErrDecisionConflict, "candidate already has a terminal decision")
	ErrInvalidVerdict     = NewDomainError("candidate", "Validate", ErrInvalidInput, "invalid moderation verdict")
	ErrInvalidScore       = NewDomainError("candidate", "Validate", ErrValueOutOfRange, "moderation score must be 0-100")
	ErrQuestionTooShort   = NewDomainError("candidate", "Validate", ErrInvalidInput, "question text is too short")
	ErrWrongOptionCount   = NewDomainError("candidate", "Validate", ErrInvalidInput, "candidate must have exactly four options")
	ErrCorrectOutOfRange  = NewDomainError("candidate", "Validate", ErrValueOutOfRange, "correct option index out of range")
	ErrExtractionFailed   = NewDomainError("candidate", "Extract", ErrExtraction, "could not extract candidates from document")
	ErrNoCandidatesParsed = NewDomainError("candidate", "Extract", ErrExtraction, "document produced no parseable candidates")
)

// Audit domain errors
var (
	ErrAuditRecordNotFound = NewDomainError("audit", "Query", ErrNotFound, "audit record not found")
	ErrInvalidAuditTarget  = NewDomainError("audit", "Validate", ErrInvalidID, "audit target is required")
	ErrInvalidAuditAction  = NewDomainError("audit", "Validate", ErrInvalidInput, "audit action is required")
)

// Admin domain errors
var (
	ErrAdminNotFound      = NewDomainError("admin", "Find", ErrNotFound, "admin not found")
	ErrAdminNotAuthorized = NewDomainError("admin", "Authorize", ErrForbidden, "admin role required")
	ErrScopeViolation     = NewDomainError("admin", "CheckScope", ErrForbidden, "batch is outside the admin's scope")
	ErrAccessCodeNotFound = NewDomainError("admin", "RedeemCode", ErrNotFound, "access code not found")
	ErrAccessCodeExpired  = NewDomainError("admin", "RedeemCode", ErrExpired, "access code expired")
	ErrAccessCodeUsed     = NewDomainError("admin", "RedeemCode", ErrInvalidState, "access code already used")
	ErrAccessCodeRevoked  = NewDomainError("admin", "RedeemCode", ErrInvalidState, "access code revoked")
)

// Curriculum domain errors
var (
	ErrTopicNotFound      = NewDomainError("curriculum", "FindTopic", ErrNotFound, "topic not found")
	ErrUnitNotFound       = NewDomainError("curriculum", "FindUnit", ErrNotFound, "unit not found")
	ErrCourseNotFound     = NewDomainError("curriculum", "FindCourse", ErrNotFound, "course not found")
	ErrUniversityNotFound = NewDomainError("curriculum", "FindUniversity", ErrNotFound, "university not found")
)

// External service errors
var (
	ErrScorerUnavailable     = NewDomainError("scorer", "Request", ErrServiceUnavailable, "scoring service is unavailable")
	ErrScorerTimeout         = NewDomainError("scorer", "Request", ErrTimeout, "scoring service request timeout")
	ErrScorerInvalidResponse = NewDomainError("scorer", "Parse", ErrInvalidFormat, "invalid response from scoring service")
	ErrScorerRateLimited     = NewDomainError("scorer", "Request", ErrRateLimited, "scoring service rate limit exceeded")
	ErrOCRUnavailable        = NewDomainError("ocr", "Request", ErrServiceUnavailable, "OCR service is unavailable")
	ErrOCRInvalidResponse    = NewDomainError("ocr", "Parse", ErrInvalidFormat, "invalid response from OCR service")
	ErrTelegramAPIFailed     = NewDomainError("telegram", "Send", ErrExternalService, "Telegram API request failed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsLockConflict checks if the error means another admin holds the lease.
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

// IsNotOwner checks if the error means the caller is not the lock holder.
func IsNotOwner(err error) bool {
	return errors.Is(err, ErrNotOwner)
}

// IsDecisionConflict checks if the error means a decision race was lost.
func IsDecisionConflict(err error) bool {
	return errors.Is(err, ErrDecisionConflict)
}

// IsExtraction checks if the error came from document extraction.
func IsExtraction(err error) bool {
	return errors.Is(err, ErrExtraction) || errors.Is(err, ErrUnsupportedDocument)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrLockConflict) ||
		errors.Is(err, ErrOptimisticConflict)
}
