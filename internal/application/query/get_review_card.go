package query

import (
	"context"
	"errors"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET REVIEW CARD QUERY
// Возвращает очередного нерешённого кандидата партии для карточки ревью.
// Доступно только держателю неистёкшей аренды.
// ══════════════════════════════════════════════════════════════════════════════

// GetReviewCardQuery содержит параметры запроса карточки.
type GetReviewCardQuery struct {
	// BatchID - партия на ревью.
	BatchID string

	// AdminID - Telegram ID администратора-держателя.
	AdminID int64
}

// Validate проверяет корректность параметров запроса.
func (q *GetReviewCardQuery) Validate() error {
	if q.BatchID == "" {
		return errors.New("batch_id is required")
	}
	if q.AdminID <= 0 {
		return errors.New("admin_id is required")
	}
	return nil
}

// ReviewCardDTO - DTO кандидата для карточки ревью.
type ReviewCardDTO struct {
	// CandidateID - идентификатор кандидата.
	CandidateID string `json:"candidate_id"`

	// Text - текст вопроса.
	Text string `json:"text"`

	// Options - четыре варианта ответа в порядке A-D.
	Options []string `json:"options"`

	// CorrectIndex - индекс правильного варианта (0-3).
	CorrectIndex int `json:"correct_index"`

	// CorrectLetter - буквенная метка правильного варианта.
	CorrectLetter string `json:"correct_letter"`

	// Explanation - пояснение к ответу (может быть пустым).
	Explanation string `json:"explanation,omitempty"`

	// Difficulty - оценочная сложность.
	Difficulty string `json:"difficulty"`

	// Score - оценка модерации 0-100.
	Score int `json:"score"`

	// Verdict - вердикт модерации.
	Verdict string `json:"verdict"`

	// Comments - комментарий модерации.
	Comments string `json:"comments,omitempty"`

	// Heuristic - true, если оценка эвристическая.
	Heuristic bool `json:"heuristic"`

	// Confidence - уверенность извлечения [0, 1].
	Confidence float64 `json:"confidence"`
}

// GetReviewCardResult содержит результат запроса карточки.
type GetReviewCardResult struct {
	// Card - очередной кандидат (nil, если нерешённых не осталось).
	Card *ReviewCardDTO `json:"card,omitempty"`

	// Done - true, когда в партии не осталось нерешённых кандидатов.
	Done bool `json:"done"`

	// Decided - количество уже решённых кандидатов.
	Decided int `json:"decided"`

	// Total - общее количество кандидатов партии.
	Total int `json:"total"`

	// LeaseRemaining - остаток срока аренды.
	LeaseRemaining time.Duration `json:"lease_remaining"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetReviewCardHandler обрабатывает запросы карточки ревью.
type GetReviewCardHandler struct {
	batchRepo     batch.Repository
	candidateRepo candidate.Repository

	leaseTTL time.Duration
	now      func() time.Time
}

// GetReviewCardHandlerConfig содержит конфигурацию обработчика.
type GetReviewCardHandlerConfig struct {
	// LeaseTTL - срок аренды ревью. Ноль означает значение по умолчанию.
	LeaseTTL time.Duration

	// Clock возвращает текущее время. Nil означает UTC.
	Clock func() time.Time
}

// NewGetReviewCardHandler создаёт новый обработчик карточки ревью.
func NewGetReviewCardHandler(
	batchRepo batch.Repository,
	candidateRepo candidate.Repository,
	config GetReviewCardHandlerConfig,
) *GetReviewCardHandler {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = batch.DefaultLeaseTTL
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &GetReviewCardHandler{
		batchRepo:     batchRepo,
		candidateRepo: candidateRepo,
		leaseTTL:      config.LeaseTTL,
		now:           config.Clock,
	}
}

// Handle выполняет запрос карточки ревью.
func (h *GetReviewCardHandler) Handle(ctx context.Context, query GetReviewCardQuery) (*GetReviewCardResult, error) {
	// Валидация входных данных
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetReviewCard", shared.ErrValidation, err.Error(), err)
	}

	batchID, err := shared.NewBatchID(query.BatchID)
	if err != nil {
		return nil, err
	}

	b, err := h.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, shared.WrapError("query", "GetReviewCard", shared.ErrNotFound, "batch not found", err)
	}

	// Карточку видит только держатель неистёкшей аренды
	now := h.now()
	holder, held := b.HolderAt(now, h.leaseTTL)
	if !held || holder != shared.TelegramID(query.AdminID) {
		return nil, shared.ErrBatchNotOwner
	}

	result := &GetReviewCardResult{
		Decided:        b.ApprovedCount + b.RejectedCount,
		Total:          b.TotalCount(),
		LeaseRemaining: b.Lease.RemainingAt(now, h.leaseTTL),
		GeneratedAt:    now,
	}

	pending, err := h.candidateRepo.ListPendingByBatch(ctx, batchID, 1, 0)
	if err != nil {
		return nil, shared.WrapError("query", "GetReviewCard", shared.ErrNotFound, "failed to load pending candidates", err)
	}

	if len(pending) == 0 {
		result.Done = true
		return result, nil
	}

	c := pending[0]
	result.Card = &ReviewCardDTO{
		CandidateID:   c.ID.String(),
		Text:          c.Text,
		Options:       c.Options,
		CorrectIndex:  c.CorrectIndex,
		CorrectLetter: c.CorrectLetter(),
		Explanation:   c.Explanation,
		Difficulty:    string(c.Difficulty),
		Score:         c.Score.Int(),
		Verdict:       string(c.Verdict),
		Comments:      c.Comments,
		Heuristic:     c.Heuristic,
		Confidence:    c.Confidence,
	}

	return result, nil
}
