// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST REVIEW QUEUE QUERY
// Возвращает очередь ревью для администратора: партии с его арендой
// плюс партии без неистёкшей чужой аренды, старейшие первыми.
// Истечение аренды оценивается лениво, внутри запроса.
// ══════════════════════════════════════════════════════════════════════════════

// ListReviewQueueQuery содержит параметры запроса очереди.
type ListReviewQueueQuery struct {
	// AdminID - Telegram ID администратора.
	AdminID int64

	// Page - номер страницы (1-based).
	Page int

	// PageSize - размер страницы (по умолчанию 10, максимум 50).
	PageSize int
}

// Validate проверяет корректность параметров запроса.
func (q *ListReviewQueueQuery) Validate() error {
	if q.AdminID <= 0 {
		return errors.New("admin_id is required")
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

// ReviewQueueEntryDTO - DTO одной партии в очереди ревью.
type ReviewQueueEntryDTO struct {
	// BatchID - идентификатор партии.
	BatchID string `json:"batch_id"`

	// TopicID - тема партии.
	TopicID int64 `json:"topic_id"`

	// TopicPath - путь темы вида "Юнит → Тема" (пусто при сбое справочника).
	TopicPath string `json:"topic_path,omitempty"`

	// SourceKind - тип исходного документа.
	SourceKind string `json:"source_kind"`

	// Status - текущий статус партии.
	Status string `json:"status"`

	// Pending - количество кандидатов, ожидающих решения.
	Pending int `json:"pending"`

	// Total - общее количество кандидатов.
	Total int `json:"total"`

	// Degraded - true, если партия оценивалась эвристикой.
	Degraded bool `json:"degraded"`

	// HeldByMe - true, если аренду держит запрашивающий администратор.
	HeldByMe bool `json:"held_by_me"`

	// LockExpiresAt - момент истечения аренды (nil, если аренды нет).
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`

	// CreatedAt - момент создания партии.
	CreatedAt time.Time `json:"created_at"`
}

// ListReviewQueueResult содержит результат запроса очереди.
type ListReviewQueueResult struct {
	// Entries - партии текущей страницы.
	Entries []ReviewQueueEntryDTO `json:"entries"`

	// TotalCount - общий размер очереди.
	TotalCount int `json:"total_count"`

	// Page - текущая страница (1-based).
	Page int `json:"page"`

	// PageSize - размер страницы.
	PageSize int `json:"page_size"`

	// HasMore - есть ли ещё партии после текущей страницы.
	HasMore bool `json:"has_more"`

	// FromCache - true, если страница пришла из кеша.
	FromCache bool `json:"from_cache"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// QueueCache - кеш страниц очереди ревью. Срез хранится как непрозрачный
// JSON; промах возвращает ok=false без ошибки. Реализация в
// infrastructure (redis.QueueCache), nil отключает кеширование.
type QueueCache interface {
	// GetQueue читает закешированную страницу очереди в dest.
	GetQueue(ctx context.Context, adminID int64, page, pageSize int, dest interface{}) (bool, error)

	// SetQueue сохраняет страницу очереди.
	SetQueue(ctx context.Context, adminID int64, page, pageSize int, snapshot interface{}) error
}

// ListReviewQueueHandler обрабатывает запросы очереди ревью.
type ListReviewQueueHandler struct {
	batchRepo batch.Repository
	adminRepo admin.Repository
	topics    curriculum.Repository
	cache     QueueCache

	leaseTTL time.Duration
	now      func() time.Time
}

// ListReviewQueueHandlerConfig содержит конфигурацию обработчика.
type ListReviewQueueHandlerConfig struct {
	// LeaseTTL - срок аренды ревью. Ноль означает значение по умолчанию.
	LeaseTTL time.Duration

	// Clock возвращает текущее время. Nil означает UTC.
	Clock func() time.Time
}

// NewListReviewQueueHandler создаёт новый обработчик очереди ревью.
func NewListReviewQueueHandler(
	batchRepo batch.Repository,
	adminRepo admin.Repository,
	topics curriculum.Repository,
	cache QueueCache,
	config ListReviewQueueHandlerConfig,
) *ListReviewQueueHandler {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = batch.DefaultLeaseTTL
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &ListReviewQueueHandler{
		batchRepo: batchRepo,
		adminRepo: adminRepo,
		topics:    topics,
		cache:     cache,
		leaseTTL:  config.LeaseTTL,
		now:       config.Clock,
	}
}

// Handle выполняет запрос очереди ревью.
func (h *ListReviewQueueHandler) Handle(ctx context.Context, query ListReviewQueueQuery) (*ListReviewQueueResult, error) {
	// Валидация входных данных
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "ListReviewQueue", shared.ErrValidation, err.Error(), err)
	}

	// Загружаем администратора и проверяем права
	reviewer, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(query.AdminID))
	if err != nil {
		return nil, shared.WrapError("query", "ListReviewQueue", shared.ErrForbidden, "unknown reviewer", err)
	}
	if !reviewer.CanReview() {
		return nil, shared.ErrAdminNotAuthorized
	}

	// Кеш опрашивается только после авторизации: ключ включает
	// администратора, но не его права.
	if h.cache != nil {
		var cached ListReviewQueueResult
		if ok, err := h.cache.GetQueue(ctx, query.AdminID, query.Page, query.PageSize, &cached); err == nil && ok {
			cached.FromCache = true
			return &cached, nil
		}
	}

	// Собираем ограничение по темам из областей ревью
	topicIDs, err := h.scopedTopics(ctx, reviewer)
	if err != nil {
		return nil, err
	}

	now := h.now()
	offset := (query.Page - 1) * query.PageSize

	batches, err := h.batchRepo.ListReviewQueue(ctx, reviewer.TelegramID, topicIDs, now, h.leaseTTL, query.PageSize, offset)
	if err != nil {
		return nil, shared.WrapError("query", "ListReviewQueue", shared.ErrNotFound, "failed to list queue", err)
	}

	total, err := h.batchRepo.CountReviewQueue(ctx, reviewer.TelegramID, topicIDs, now, h.leaseTTL)
	if err != nil {
		return nil, shared.WrapError("query", "ListReviewQueue", shared.ErrNotFound, "failed to count queue", err)
	}

	entries := make([]ReviewQueueEntryDTO, 0, len(batches))
	for _, b := range batches {
		entries = append(entries, h.toDTO(ctx, b, reviewer.TelegramID, now))
	}

	result := &ListReviewQueueResult{
		Entries:     entries,
		TotalCount:  total,
		Page:        query.Page,
		PageSize:    query.PageSize,
		HasMore:     offset+len(entries) < total,
		GeneratedAt: now,
	}

	// Сбой записи в кеш не влияет на ответ.
	if h.cache != nil {
		_ = h.cache.SetQueue(ctx, query.AdminID, query.Page, query.PageSize, result)
	}

	return result, nil
}

// scopedTopics возвращает список тем, которыми ограничена очередь
// администратора. Nil означает отсутствие ограничений.
func (h *ListReviewQueueHandler) scopedTopics(ctx context.Context, reviewer *admin.Admin) ([]shared.TopicID, error) {
	if reviewer.IsUnrestricted() {
		return nil, nil
	}

	seen := make(map[shared.TopicID]struct{})
	ids := make([]shared.TopicID, 0, 16)

	for _, scope := range reviewer.Scopes {
		var (
			scoped []shared.TopicID
			err    error
		)
		if scope.CourseID == 0 {
			scoped, err = h.topics.ListTopicIDsByUniversity(ctx, scope.UniversityID)
		} else {
			scoped, err = h.topics.ListTopicIDsByCourse(ctx, scope.UniversityID, scope.CourseID)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve scope %s: %w", scope, err)
		}

		for _, id := range scoped {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	// Пустой (но не nil) список означает: областям не соответствует
	// ни одна тема, очередь пуста.
	return ids, nil
}

// toDTO формирует запись очереди.
func (h *ListReviewQueueHandler) toDTO(ctx context.Context, b *batch.UploadBatch, adminID shared.TelegramID, now time.Time) ReviewQueueEntryDTO {
	dto := ReviewQueueEntryDTO{
		BatchID:    b.ID.String(),
		TopicID:    b.TopicID.Int64(),
		SourceKind: string(b.SourceKind),
		Status:     string(b.Status),
		Pending:    b.PendingCount,
		Total:      b.TotalCount(),
		Degraded:   b.Degraded,
		CreatedAt:  b.CreatedAt,
	}

	if holder, held := b.HolderAt(now, h.leaseTTL); held {
		dto.HeldByMe = holder == adminID
		expires := b.Lease.ExpiresAt(h.leaseTTL)
		dto.LockExpiresAt = &expires
	}

	// Путь темы не критичен: сбой справочника оставляет поле пустым.
	if path, err := h.topics.GetTopicPath(ctx, b.TopicID); err == nil {
		dto.TopicPath = path.String()
	}

	return dto
}
