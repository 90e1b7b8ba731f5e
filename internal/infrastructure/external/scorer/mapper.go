package scorer

import (
	"errors"
	"fmt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain transformations
// ══════════════════════════════════════════════════════════════════════════════

// ErrInvalidAssessment is returned when the backend response cannot be
// trusted. The caller treats it like any other scorer failure and falls
// back to the heuristic.
var ErrInvalidAssessment = errors.New("invalid assessment from scoring service")

// Mapper handles transformation between scoring API DTOs and domain types.
// This follows the Anti-Corruption Layer pattern from DDD, protecting the
// domain from backend response drift.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ScoreRequestToDTO converts a domain score request to the wire format.
// Model and temperature are left empty; the client fills its defaults.
func (m *Mapper) ScoreRequestToDTO(req candidate.ScoreRequest) ScoreRequestDTO {
	return ScoreRequestDTO{
		Question:             req.Text,
		Options:              req.Options,
		CorrectIndex:         req.CorrectIndex,
		Explanation:          req.Explanation,
		Topic:                req.TopicName,
		ExtractionConfidence: req.Confidence,
	}
}

// ScoreResultFromDTO converts an assessment DTO to a domain score result.
// An out-of-range score means the model hallucinated the format, so the
// whole assessment is rejected rather than clamped.
func (m *Mapper) ScoreResultFromDTO(dto *AssessmentDTO) (candidate.ScoreResult, error) {
	if dto == nil {
		return candidate.ScoreResult{}, ErrInvalidAssessment
	}

	score := candidate.Score(dto.Score)
	if !score.IsValid() {
		return candidate.ScoreResult{}, fmt.Errorf("%w: score %d out of range", ErrInvalidAssessment, dto.Score)
	}

	return candidate.ScoreResult{
		Score:    score,
		Comments: dto.Comments,
	}, nil
}
