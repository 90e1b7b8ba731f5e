// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON INGEST FAILED HANDLER
// Сообщает загрузчику, что из его файла не удалось извлечь вопросы.
// Партия к этому моменту уже помечена заброшенной.
// ═══════════════════════════════════════════════════════════════════════════

// OnIngestFailedHandler обрабатывает событие сбоя извлечения.
type OnIngestFailedHandler struct {
	sender notification.NotificationSender
	ids    shared.IDGenerator
	logger *slog.Logger
}

// NewOnIngestFailedHandler создаёт новый обработчик сбоя извлечения.
func NewOnIngestFailedHandler(
	sender notification.NotificationSender,
	ids shared.IDGenerator,
	logger *slog.Logger,
) *OnIngestFailedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnIngestFailedHandler{
		sender: sender,
		ids:    ids,
		logger: logger.With("handler", "on_ingest_failed"),
	}
}

// Handle обрабатывает событие сбоя извлечения.
// Реализует интерфейс shared.EventHandler.
func (h *OnIngestFailedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	failed, ok := event.(shared.BatchIngestFailedEvent)
	if !ok {
		h.logger.Warn("received non-BatchIngestFailedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	h.logger.Info("processing ingest failed event",
		"batch_id", failed.AggregateID(),
		"uploader_id", failed.UploaderID,
		"reason", failed.Reason,
	)

	message := fmt.Sprintf(
		"%s Не удалось извлечь вопросы из файла.\n\nПричина: %s\n\nПроверьте формат и загрузите документ заново.",
		notification.NotificationTypeIngestFailed.Emoji(),
		failed.Reason,
	)

	notif, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      notification.NotificationID(h.ids.NewID()),
		Type:    notification.NotificationTypeIngestFailed,
		ChatID:  notification.ChatID(failed.UploaderID),
		Message: message,
		Data: notification.NotificationData{
			BatchID: failed.AggregateID(),
			Reason:  failed.Reason,
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
func (h *OnIngestFailedHandler) EventType() shared.EventType {
	return shared.EventBatchIngestFailed
}
