package query

import (
	"context"
	"errors"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PUBLISHED QUESTIONS QUERY
// Возвращает одобренные вопросы темы для выдачи в викторинах.
// Кеш-сначала: окно темы хранится в Redis и режется на страницы
// в памяти, промах заполняет кеш из базы.
// ══════════════════════════════════════════════════════════════════════════════

// GetPublishedQuestionsQuery содержит параметры запроса вопросов.
type GetPublishedQuestionsQuery struct {
	// TopicID - идентификатор темы.
	TopicID int64

	// Difficulty - фильтр сложности: "easy", "medium", "hard".
	// Пустое значение означает любую сложность.
	Difficulty string

	// Page - номер страницы (1-based).
	Page int

	// PageSize - размер страницы (по умолчанию 10, максимум 50).
	PageSize int
}

// Validate проверяет корректность параметров запроса.
func (q *GetPublishedQuestionsQuery) Validate() error {
	if !shared.TopicID(q.TopicID).IsValid() {
		return errors.New("topic_id is required")
	}
	if q.Difficulty != "" && !candidate.Difficulty(q.Difficulty).IsValid() {
		return errors.New("unknown difficulty")
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 10
	}
	if q.PageSize > 50 {
		q.PageSize = 50
	}
	return nil
}

// QuestionDTO - DTO одного опубликованного вопроса.
type QuestionDTO struct {
	// CandidateID - идентификатор вопроса.
	CandidateID string `json:"candidate_id"`

	// Text - текст вопроса.
	Text string `json:"text"`

	// Options - четыре варианта ответа в исходном порядке.
	Options []string `json:"options"`

	// CorrectIndex - индекс правильного варианта (0-based).
	CorrectIndex int `json:"correct_index"`

	// CorrectLetter - буква правильного варианта (A-D).
	CorrectLetter string `json:"correct_letter"`

	// Explanation - пояснение к правильному ответу.
	Explanation string `json:"explanation,omitempty"`

	// Difficulty - сложность вопроса.
	Difficulty string `json:"difficulty"`

	// Score - оценка модерации (0-100).
	Score int `json:"score"`
}

// GetPublishedQuestionsResult содержит результат запроса вопросов.
type GetPublishedQuestionsResult struct {
	// Questions - вопросы текущей страницы, новейшие первыми.
	Questions []QuestionDTO `json:"questions"`

	// TopicPath - путь темы вида "Юнит → Тема" (пусто при сбое справочника).
	TopicPath string `json:"topic_path,omitempty"`

	// TotalCount - общее количество опубликованных вопросов темы.
	TotalCount int `json:"total_count"`

	// Page - текущая страница (1-based).
	Page int `json:"page"`

	// PageSize - размер страницы.
	PageSize int `json:"page_size"`

	// FromCache - true, если окно пришло из кеша.
	FromCache bool `json:"from_cache"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetPublishedQuestionsHandler обрабатывает запросы опубликованных вопросов.
type GetPublishedQuestionsHandler struct {
	candidateRepo candidate.Repository
	cache         candidate.Cache
	topics        curriculum.Repository

	cacheWindow int
	cacheTTL    time.Duration
	now         func() time.Time
}

// GetPublishedQuestionsHandlerConfig содержит конфигурацию обработчика.
type GetPublishedQuestionsHandlerConfig struct {
	// CacheWindow - размер кешируемого окна темы (по умолчанию 200).
	CacheWindow int

	// CacheTTL - срок жизни окна в кеше (по умолчанию 10 минут).
	CacheTTL time.Duration

	// Clock возвращает текущее время. Nil означает UTC.
	Clock func() time.Time
}

// DefaultGetPublishedQuestionsHandlerConfig возвращает конфигурацию по умолчанию.
func DefaultGetPublishedQuestionsHandlerConfig() GetPublishedQuestionsHandlerConfig {
	return GetPublishedQuestionsHandlerConfig{
		CacheWindow: 200,
		CacheTTL:    10 * time.Minute,
	}
}

// NewGetPublishedQuestionsHandler создаёт новый обработчик опубликованных вопросов.
func NewGetPublishedQuestionsHandler(
	candidateRepo candidate.Repository,
	cache candidate.Cache,
	topics curriculum.Repository,
	config GetPublishedQuestionsHandlerConfig,
) *GetPublishedQuestionsHandler {
	if config.CacheWindow <= 0 {
		config.CacheWindow = 200
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &GetPublishedQuestionsHandler{
		candidateRepo: candidateRepo,
		cache:         cache,
		topics:        topics,
		cacheWindow:   config.CacheWindow,
		cacheTTL:      config.CacheTTL,
		now:           config.Clock,
	}
}

// Handle выполняет запрос опубликованных вопросов.
func (h *GetPublishedQuestionsHandler) Handle(ctx context.Context, query GetPublishedQuestionsQuery) (*GetPublishedQuestionsResult, error) {
	// Валидация входных данных
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetPublishedQuestions", shared.ErrValidation, err.Error(), err)
	}

	topicID := shared.TopicID(query.TopicID)
	difficulty := candidate.Difficulty(query.Difficulty)

	// Проверяем существование темы
	if _, err := h.topics.GetTopic(ctx, topicID); err != nil {
		return nil, shared.WrapError("query", "GetPublishedQuestions", shared.ErrNotFound, "topic not found", err)
	}

	now := h.now()
	result := &GetPublishedQuestionsResult{
		Page:        query.Page,
		PageSize:    query.PageSize,
		GeneratedAt: now,
	}

	// Путь темы не критичен: сбой справочника оставляет поле пустым.
	if path, err := h.topics.GetTopicPath(ctx, topicID); err == nil {
		result.TopicPath = path.String()
	}

	offset := (query.Page - 1) * query.PageSize

	// Глубокая пагинация идёт мимо кешируемого окна, напрямую в базу.
	if offset >= h.cacheWindow {
		questions, err := h.candidateRepo.ListPublished(ctx, topicID, difficulty, query.PageSize, offset)
		if err != nil {
			return nil, shared.WrapError("query", "GetPublishedQuestions", shared.ErrNotFound, "failed to list questions", err)
		}
		total, err := h.totalFor(ctx, topicID, difficulty, offset+len(questions))
		if err != nil {
			return nil, err
		}

		result.Questions = toQuestionDTOs(questions)
		result.TotalCount = total
		return result, nil
	}

	window, fromCache, err := h.loadWindow(ctx, topicID, difficulty)
	if err != nil {
		return nil, err
	}

	total, err := h.totalFor(ctx, topicID, difficulty, len(window))
	if err != nil {
		return nil, err
	}

	result.Questions = toQuestionDTOs(paginate(window, offset, query.PageSize))
	result.TotalCount = total
	result.FromCache = fromCache
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// loadWindow возвращает окно вопросов темы: из кеша или из базы с
// заполнением кеша. Кеш опционален: без него запрос идёт напрямую в базу.
func (h *GetPublishedQuestionsHandler) loadWindow(ctx context.Context, topicID shared.TopicID, difficulty candidate.Difficulty) ([]*candidate.Candidate, bool, error) {
	// Сбой кеша не ломает выдачу, он лишь переводит запрос в базу.
	if h.cache != nil {
		if cached, err := h.cache.GetPublished(ctx, topicID, difficulty); err == nil && len(cached) > 0 {
			return cached, true, nil
		}
	}

	window, err := h.candidateRepo.ListPublished(ctx, topicID, difficulty, h.cacheWindow, 0)
	if err != nil {
		return nil, false, shared.WrapError("query", "GetPublishedQuestions", shared.ErrNotFound, "failed to list questions", err)
	}

	if h.cache != nil && len(window) > 0 {
		_ = h.cache.SetPublished(ctx, topicID, difficulty, window, h.cacheTTL)
	}

	return window, false, nil
}

// totalFor возвращает общий счётчик вопросов. Точный счётчик есть
// только без фильтра сложности, иначе берётся известное количество.
func (h *GetPublishedQuestionsHandler) totalFor(ctx context.Context, topicID shared.TopicID, difficulty candidate.Difficulty, known int) (int, error) {
	if difficulty != "" {
		return known, nil
	}

	total, err := h.candidateRepo.CountPublished(ctx, topicID)
	if err != nil {
		return 0, shared.WrapError("query", "GetPublishedQuestions", shared.ErrNotFound, "failed to count questions", err)
	}
	return total, nil
}

// paginate режет окно на страницу в памяти.
func paginate(window []*candidate.Candidate, offset, limit int) []*candidate.Candidate {
	if offset >= len(window) {
		return nil
	}
	end := offset + limit
	if end > len(window) {
		end = len(window)
	}
	return window[offset:end]
}

// toQuestionDTOs формирует DTO вопросов.
func toQuestionDTOs(candidates []*candidate.Candidate) []QuestionDTO {
	questions := make([]QuestionDTO, 0, len(candidates))
	for _, c := range candidates {
		questions = append(questions, QuestionDTO{
			CandidateID:   c.ID.String(),
			Text:          c.Text,
			Options:       c.Options,
			CorrectIndex:  c.CorrectIndex,
			CorrectLetter: c.CorrectLetter(),
			Explanation:   c.Explanation,
			Difficulty:    string(c.Difficulty),
			Score:         int(c.Score),
		})
	}
	return questions
}
