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
// GET CONTRIBUTOR STATS QUERY
// Возвращает статистику загрузчиков: топ по одобренным кандидатам
// или персональные счётчики одного загрузчика. Список перестраивается
// фоновым заданием, запрос читает кеш и при промахе идёт в базу.
// ══════════════════════════════════════════════════════════════════════════════

// GetContributorStatsQuery содержит параметры запроса статистики.
type GetContributorStatsQuery struct {
	// UploaderID - Telegram ID загрузчика для персонального режима.
	// Ноль переключает запрос в режим топа.
	UploaderID int64

	// Limit - размер топа (по умолчанию 10, максимум 50).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *GetContributorStatsQuery) Validate() error {
	if q.UploaderID < 0 {
		return errors.New("uploader_id cannot be negative")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 50 {
		q.Limit = 50
	}
	return nil
}

// ContributorStatsDTO - DTO статистики одного загрузчика.
type ContributorStatsDTO struct {
	// Rank - позиция в топе (0 в персональном режиме).
	Rank int `json:"rank,omitempty"`

	// UploaderID - Telegram ID загрузчика.
	UploaderID int64 `json:"uploader_id"`

	// Submitted - всего извлечено кандидатов.
	Submitted int `json:"submitted"`

	// Approved - одобрено кандидатов.
	Approved int `json:"approved"`

	// Rejected - отклонено кандидатов, включая автоотклонения.
	Rejected int `json:"rejected"`

	// Pending - кандидатов в ожидании решения.
	Pending int `json:"pending"`

	// ApprovalRate - доля одобренных среди решённых (0.0 - 1.0).
	ApprovalRate float64 `json:"approval_rate"`
}

// GetContributorStatsResult содержит результат запроса статистики.
type GetContributorStatsResult struct {
	// Top - лучшие загрузчики по одобренным (пуст в персональном режиме).
	Top []ContributorStatsDTO `json:"top,omitempty"`

	// Personal - статистика запрошенного загрузчика (nil в режиме топа).
	Personal *ContributorStatsDTO `json:"personal,omitempty"`

	// BatchesByStatus - счётчики партий загрузчика по статусам
	// (только персональный режим).
	BatchesByStatus map[string]int `json:"batches_by_status,omitempty"`

	// FromCache - true, если статистика пришла из кеша.
	FromCache bool `json:"from_cache"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetContributorStatsHandler обрабатывает запросы статистики загрузчиков.
type GetContributorStatsHandler struct {
	candidateRepo candidate.Repository
	batchRepo     batch.Repository
	statsCache    candidate.ContributorCache

	topLimit int
	cacheTTL time.Duration
	now      func() time.Time
}

// GetContributorStatsHandlerConfig содержит конфигурацию обработчика.
type GetContributorStatsHandlerConfig struct {
	// TopLimit - размер агрегируемого списка (по умолчанию 50).
	TopLimit int

	// CacheTTL - срок жизни статистики в кеше (по умолчанию 30 минут).
	CacheTTL time.Duration

	// Clock возвращает текущее время. Nil означает UTC.
	Clock func() time.Time
}

// NewGetContributorStatsHandler создаёт новый обработчик статистики.
func NewGetContributorStatsHandler(
	candidateRepo candidate.Repository,
	batchRepo batch.Repository,
	statsCache candidate.ContributorCache,
	config GetContributorStatsHandlerConfig,
) *GetContributorStatsHandler {
	if config.TopLimit <= 0 {
		config.TopLimit = 50
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &GetContributorStatsHandler{
		candidateRepo: candidateRepo,
		batchRepo:     batchRepo,
		statsCache:    statsCache,
		topLimit:      config.TopLimit,
		cacheTTL:      config.CacheTTL,
		now:           config.Clock,
	}
}

// Handle выполняет запрос статистики загрузчиков.
func (h *GetContributorStatsHandler) Handle(ctx context.Context, query GetContributorStatsQuery) (*GetContributorStatsResult, error) {
	// Валидация входных данных
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetContributorStats", shared.ErrValidation, err.Error(), err)
	}

	if query.UploaderID > 0 {
		return h.handlePersonal(ctx, shared.TelegramID(query.UploaderID))
	}

	return h.handleTop(ctx, query.Limit)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// handleTop возвращает топ загрузчиков.
func (h *GetContributorStatsHandler) handleTop(ctx context.Context, limit int) (*GetContributorStatsResult, error) {
	stats, fromCache, err := h.loadStats(ctx)
	if err != nil {
		return nil, err
	}

	if len(stats) > limit {
		stats = stats[:limit]
	}

	top := make([]ContributorStatsDTO, 0, len(stats))
	for i, agg := range stats {
		dto := toContributorDTO(agg)
		dto.Rank = i + 1
		top = append(top, dto)
	}

	return &GetContributorStatsResult{
		Top:         top,
		FromCache:   fromCache,
		GeneratedAt: h.now(),
	}, nil
}

// handlePersonal возвращает счётчики одного загрузчика.
func (h *GetContributorStatsHandler) handlePersonal(ctx context.Context, uploaderID shared.TelegramID) (*GetContributorStatsResult, error) {
	agg, fromCache, err := h.loadContributor(ctx, uploaderID)
	if err != nil {
		return nil, err
	}

	batches, err := h.batchRepo.CountByUploader(ctx, uploaderID)
	if err != nil {
		return nil, shared.WrapError("query", "GetContributorStats", shared.ErrNotFound, "failed to count batches", err)
	}

	byStatus := make(map[string]int, len(batches))
	for status, count := range batches {
		byStatus[string(status)] = count
	}

	personal := toContributorDTO(agg)

	return &GetContributorStatsResult{
		Personal:        &personal,
		BatchesByStatus: byStatus,
		FromCache:       fromCache,
		GeneratedAt:     h.now(),
	}, nil
}

// loadStats возвращает список статистики: из кеша или из базы с
// заполнением кеша. Кеш опционален: без него запрос идёт напрямую в базу.
func (h *GetContributorStatsHandler) loadStats(ctx context.Context) ([]candidate.ContributorAggregate, bool, error) {
	// Сбой кеша не ломает выдачу, он лишь переводит запрос в базу.
	if h.statsCache != nil {
		if cached, err := h.statsCache.GetStats(ctx); err == nil && len(cached) > 0 {
			return cached, true, nil
		}
	}

	stats, err := h.candidateRepo.AggregateContributors(ctx, h.topLimit)
	if err != nil {
		return nil, false, shared.WrapError("query", "GetContributorStats", shared.ErrNotFound, "failed to aggregate contributors", err)
	}

	if h.statsCache != nil && len(stats) > 0 {
		_ = h.statsCache.SetStats(ctx, stats, h.cacheTTL)
	}

	return stats, false, nil
}

// loadContributor возвращает статистику одного загрузчика. Промах
// кеша решается общим списком; загрузчик вне списка получает нули.
func (h *GetContributorStatsHandler) loadContributor(ctx context.Context, uploaderID shared.TelegramID) (candidate.ContributorAggregate, bool, error) {
	if h.statsCache != nil {
		if cached, err := h.statsCache.GetContributor(ctx, uploaderID); err == nil && cached != nil {
			return *cached, true, nil
		}
	}

	stats, _, err := h.loadStats(ctx)
	if err != nil {
		return candidate.ContributorAggregate{}, false, err
	}

	for _, agg := range stats {
		if agg.UploaderID == uploaderID {
			return agg, false, nil
		}
	}

	return candidate.ContributorAggregate{UploaderID: uploaderID}, false, nil
}

// toContributorDTO формирует DTO статистики.
func toContributorDTO(agg candidate.ContributorAggregate) ContributorStatsDTO {
	return ContributorStatsDTO{
		UploaderID:   agg.UploaderID.Int64(),
		Submitted:    agg.Submitted,
		Approved:     agg.Approved,
		Rejected:     agg.Rejected,
		Pending:      agg.Pending,
		ApprovalRate: agg.ApprovalRate(),
	}
}
