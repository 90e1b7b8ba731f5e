package scorer

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPERS
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse represents a generic API response wrapper.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSESSMENT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ScoreRequestDTO represents one candidate sent for assessment.
type ScoreRequestDTO struct {
	// Model is the model identifier the backend should use
	Model string `json:"model"`

	// Temperature controls sampling; scoring wants it low and stable
	Temperature float64 `json:"temperature"`

	// Question is the question text
	Question string `json:"question"`

	// Options are the four answer options in A-D order
	Options []string `json:"options"`

	// CorrectIndex is the index of the correct option (0-3)
	CorrectIndex int `json:"correct_index"`

	// Explanation is the answer explanation, may be empty
	Explanation string `json:"explanation,omitempty"`

	// Topic is the curriculum topic name, used as grading context
	Topic string `json:"topic,omitempty"`

	// ExtractionConfidence is how confidently the question was parsed [0, 1]
	ExtractionConfidence float64 `json:"extraction_confidence,omitempty"`
}

// AssessmentDTO represents the scoring backend's verdict on one candidate.
type AssessmentDTO struct {
	// Score is the quality score 0-100
	Score int `json:"score"`

	// Action is the backend's suggested action (accept, flag, reject).
	// It is advisory: the pipeline derives the verdict from the score.
	Action string `json:"action,omitempty"`

	// Comments is a short grading comment shown to reviewers
	Comments string `json:"comments,omitempty"`

	// Model is the model that produced the assessment
	Model string `json:"model,omitempty"`

	// Usage reports token consumption for quota tracking
	Usage *UsageDTO `json:"usage,omitempty"`
}

// UsageDTO reports token consumption of one assessment call.
type UsageDTO struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH DTOs
// ══════════════════════════════════════════════════════════════════════════════

// HealthDTO represents the backend health response.
type HealthDTO struct {
	// Status is "ok" when the backend and its model are reachable
	Status string `json:"status"`

	// Model is the default model currently served
	Model string `json:"model,omitempty"`

	// CheckedAt is when the backend ran its own checks
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// IsOK returns true when the backend reports itself healthy.
func (h *HealthDTO) IsOK() bool {
	return h.Status == "ok"
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO represents an error response from the API.
type APIErrorDTO struct {
	// Code is the error code
	Code string `json:"code"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Details contains additional error details
	Details map[string]interface{} `json:"details,omitempty"`

	// RequestID is the ID of the failed request (for debugging)
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
