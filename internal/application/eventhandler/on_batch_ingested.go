// Package eventhandler содержит обработчики доменных событий.
// Обработчики связывают части конвейера через асинхронные события:
// уведомляют загрузчиков о судьбе партий, сбрасывают кеши после решений
// и поднимают операторские оповещения о деградации модерации.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON BATCH INGESTED HANDLER
// Обрабатывает событие завершения обработки партии.
//
// Ключевые функции:
// 1. Сводка загрузчику — сколько извлечено, помечено, автоотклонено
// 2. Предупреждение о деградации — если оценки выставлены эвристикой
//
// Бот отвечает на загрузку коротким подтверждением, а подробная сводка
// приходит отсюда, когда извлечение и модерация закончились.
// ═══════════════════════════════════════════════════════════════════════════

// OnBatchIngestedHandler обрабатывает событие обработки партии.
type OnBatchIngestedHandler struct {
	// Repositories (интерфейсы из domain layer)
	adminRepo admin.Repository
	topics    curriculum.Repository

	// Notification sender
	sender notification.NotificationSender

	// ID generator для уведомлений
	ids shared.IDGenerator

	// Logger для структурированного логирования
	logger *slog.Logger

	// Configuration
	config BatchIngestedConfig
}

// BatchIngestedConfig содержит конфигурацию обработчика.
type BatchIngestedConfig struct {
	// SendSummary — отправлять ли загрузчику сводку по партии.
	SendSummary bool

	// WarnOnDegraded — добавлять ли предупреждение об эвристических оценках.
	WarnOnDegraded bool
}

// DefaultBatchIngestedConfig возвращает конфигурацию по умолчанию.
func DefaultBatchIngestedConfig() BatchIngestedConfig {
	return BatchIngestedConfig{
		SendSummary:    true,
		WarnOnDegraded: true,
	}
}

// NewOnBatchIngestedHandler создаёт новый обработчик события обработки партии.
func NewOnBatchIngestedHandler(
	adminRepo admin.Repository,
	topics curriculum.Repository,
	sender notification.NotificationSender,
	ids shared.IDGenerator,
	logger *slog.Logger,
	config BatchIngestedConfig,
) *OnBatchIngestedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnBatchIngestedHandler{
		adminRepo: adminRepo,
		topics:    topics,
		sender:    sender,
		ids:       ids,
		logger:    logger.With("handler", "on_batch_ingested"),
		config:    config,
	}
}

// Handle обрабатывает событие обработки партии.
// Реализует интерфейс shared.EventHandler.
func (h *OnBatchIngestedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	// Type assertion для получения конкретного типа события
	ingested, ok := event.(shared.BatchIngestedEvent)
	if !ok {
		h.logger.Warn("received non-BatchIngestedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	h.logger.Info("processing batch ingested event",
		"batch_id", ingested.AggregateID(),
		"uploader_id", ingested.UploaderID,
		"candidates", ingested.CandidateRows,
		"degraded", ingested.Degraded,
	)

	if !h.config.SendSummary {
		return nil
	}

	// 1. Загружаем загрузчика
	uploader, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(ingested.UploaderID))
	if err != nil {
		return fmt.Errorf("get uploader: %w", err)
	}
	if !uploader.IsActive {
		h.logger.Debug("uploader deactivated, skipping summary",
			"uploader_id", ingested.UploaderID,
		)
		return nil
	}

	// 2. Путь темы не критичен: сбой справочника оставляет строку пустой
	var topicPath string
	if path, err := h.topics.GetTopicPath(ctx, shared.TopicID(ingested.TopicID)); err == nil {
		topicPath = path.String()
	}

	// 3. Отправляем сводку
	if err := h.sendSummary(ctx, uploader, ingested, topicPath); err != nil {
		return fmt.Errorf("send summary: %w", err)
	}

	h.logger.Info("batch ingested summary sent",
		"batch_id", ingested.AggregateID(),
		"uploader_id", ingested.UploaderID,
	)

	return nil
}

// sendSummary отправляет загрузчику сводку по обработанной партии.
func (h *OnBatchIngestedHandler) sendSummary(
	ctx context.Context,
	uploader *admin.Admin,
	ingested shared.BatchIngestedEvent,
	topicPath string,
) error {
	pending := ingested.CandidateRows - ingested.RejectedRows

	var b strings.Builder
	fmt.Fprintf(&b, "%s Партия обработана\n\n", notification.NotificationTypeBatchIngested.Emoji())
	if topicPath != "" {
		fmt.Fprintf(&b, "Тема: %s\n", topicPath)
	}
	fmt.Fprintf(&b, "Извлечено вопросов: %d\n", ingested.CandidateRows)
	fmt.Fprintf(&b, "Ожидают ревью: %d", pending)
	if ingested.FlaggedRows > 0 {
		fmt.Fprintf(&b, " (%d с пометкой)", ingested.FlaggedRows)
	}
	b.WriteString("\n")
	if ingested.RejectedRows > 0 {
		fmt.Fprintf(&b, "Отклонено автоматически: %d\n", ingested.RejectedRows)
	}

	if ingested.Degraded && h.config.WarnOnDegraded {
		b.WriteString("\n⚠️ Автоматический оценщик был недоступен: часть оценок ")
		b.WriteString("выставлена упрощённой проверкой, такие вопросы пройдут ручное ревью.")
	}

	notif, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      notification.NotificationID(h.ids.NewID()),
		Type:    notification.NotificationTypeBatchIngested,
		ChatID:  notification.ChatID(uploader.TelegramID.Int64()),
		Message: b.String(),
		Data: notification.NotificationData{
			BatchID:      ingested.AggregateID(),
			TopicPath:    topicPath,
			Total:        ingested.CandidateRows,
			Flagged:      ingested.FlaggedRows,
			AutoRejected: ingested.RejectedRows,
			Degraded:     ingested.Degraded,
		},
	})
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	notif.SetMetadata("batch_id", ingested.AggregateID())

	result := h.sender.Send(ctx, notif)
	if !result.Success {
		return fmt.Errorf("send notification: %w", result.Error)
	}

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnBatchIngestedHandler) EventType() shared.EventType {
	return shared.EventBatchIngested
}
