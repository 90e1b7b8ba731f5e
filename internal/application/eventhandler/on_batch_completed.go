// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON BATCH COMPLETED HANDLER
// Обрабатывает завершение ревью партии.
//
// Ключевые функции:
// 1. Итоговая сводка загрузчику — сколько одобрено и отклонено
// 2. Сброс кеша статистики контрибьюторов
// ═══════════════════════════════════════════════════════════════════════════

// OnBatchCompletedHandler обрабатывает событие завершения ревью партии.
type OnBatchCompletedHandler struct {
	adminRepo  admin.Repository
	statsCache candidate.ContributorCache

	sender notification.NotificationSender
	ids    shared.IDGenerator

	logger *slog.Logger
}

// NewOnBatchCompletedHandler создаёт новый обработчик завершения партии.
func NewOnBatchCompletedHandler(
	adminRepo admin.Repository,
	statsCache candidate.ContributorCache,
	sender notification.NotificationSender,
	ids shared.IDGenerator,
	logger *slog.Logger,
) *OnBatchCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnBatchCompletedHandler{
		adminRepo:  adminRepo,
		statsCache: statsCache,
		sender:     sender,
		ids:        ids,
		logger:     logger.With("handler", "on_batch_completed"),
	}
}

// Handle обрабатывает событие завершения ревью партии.
// Реализует интерфейс shared.EventHandler.
func (h *OnBatchCompletedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	completed, ok := event.(shared.BatchCompletedEvent)
	if !ok {
		h.logger.Warn("received non-BatchCompletedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	h.logger.Info("processing batch completed event",
		"batch_id", completed.AggregateID(),
		"uploader_id", completed.UploaderID,
		"approved", completed.Approved,
		"rejected", completed.Rejected,
	)

	// 1. Статистика контрибьюторов устарела, сброс не критичен
	if h.statsCache != nil {
		if err := h.statsCache.Invalidate(ctx); err != nil {
			h.logger.Warn("failed to invalidate contributor stats cache",
				"error", err,
			)
		}
	}

	// 2. Загружаем загрузчика
	uploader, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(completed.UploaderID))
	if err != nil {
		return fmt.Errorf("get uploader: %w", err)
	}
	if !uploader.IsActive {
		h.logger.Debug("uploader deactivated, skipping summary",
			"uploader_id", completed.UploaderID,
		)
		return nil
	}

	// 3. Отправляем итоговую сводку
	if err := h.sendSummary(ctx, uploader, completed); err != nil {
		return fmt.Errorf("send summary: %w", err)
	}

	return nil
}

// sendSummary отправляет загрузчику итог ревью его партии.
func (h *OnBatchCompletedHandler) sendSummary(
	ctx context.Context,
	uploader *admin.Admin,
	completed shared.BatchCompletedEvent,
) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Ревью партии завершено\n\n", notification.NotificationTypeBatchCompleted.Emoji())
	fmt.Fprintf(&b, "Одобрено: %d\n", completed.Approved)
	fmt.Fprintf(&b, "Отклонено: %d\n", completed.Rejected)
	if completed.Approved > 0 {
		b.WriteString("\nОдобренные вопросы уже доступны студентам. Спасибо за вклад!")
	}

	notif, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      notification.NotificationID(h.ids.NewID()),
		Type:    notification.NotificationTypeBatchCompleted,
		ChatID:  notification.ChatID(uploader.TelegramID.Int64()),
		Message: b.String(),
		Data: notification.NotificationData{
			BatchID:  completed.AggregateID(),
			Approved: completed.Approved,
			Rejected: completed.Rejected,
		},
	})
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	result := h.sender.Send(ctx, notif)
	if !result.Success {
		return fmt.Errorf("send notification: %w", result.Error)
	}

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnBatchCompletedHandler) EventType() shared.EventType {
	return shared.EventBatchCompleted
}
