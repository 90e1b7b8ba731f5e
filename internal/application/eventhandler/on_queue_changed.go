package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON QUEUE CHANGED HANDLER
// Сбрасывает кеш страниц очереди ревью после любого события, меняющего
// её состав или видимые блокировки. Страницы короткоживущие, поэтому
// сброс грубый: все страницы всех администраторов разом.
// ═══════════════════════════════════════════════════════════════════════════

// QueueInvalidator сбрасывает кеш страниц очереди ревью.
// Реализация - redis.QueueCache.
type QueueInvalidator interface {
	InvalidateQueues(ctx context.Context) error
}

// OnQueueChangedHandler обрабатывает события, меняющие очередь ревью.
type OnQueueChangedHandler struct {
	queueCache QueueInvalidator

	logger *slog.Logger
}

// NewOnQueueChangedHandler создаёт новый обработчик изменения очереди.
func NewOnQueueChangedHandler(queueCache QueueInvalidator, logger *slog.Logger) *OnQueueChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnQueueChangedHandler{
		queueCache: queueCache,
		logger:     logger.With("handler", "on_queue_changed"),
	}
}

// Handle обрабатывает событие изменения очереди.
// Реализует интерфейс shared.EventHandler.
func (h *OnQueueChangedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	if err := h.queueCache.InvalidateQueues(ctx); err != nil {
		return fmt.Errorf("invalidate queue cache: %w", err)
	}

	h.logger.Debug("review queue cache invalidated",
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
	)

	return nil
}

// EventTypes возвращает все типы событий, после которых страница очереди
// могла устареть.
func (h *OnQueueChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventBatchIngested,
		shared.EventBatchLocked,
		shared.EventBatchReleased,
		shared.EventBatchCompleted,
		shared.EventBatchAbandoned,
		shared.EventLeaseReclaimed,
		shared.EventCandidateDecided,
	}
}
