// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SCORER DEGRADED HANDLER
// Поднимает операторское оповещение о недоступности оценщика.
//
// Событие приходит на каждый кандидат, оценённый эвристикой, поэтому
// оповещения дедуплицируются: не больше одного на партию за окно.
// ═══════════════════════════════════════════════════════════════════════════

// AlertDeduper отсекает повторные оповещения об одном и том же инциденте.
type AlertDeduper interface {
	// FirstWithin возвращает true, если это первое оповещение такого рода
	// по данной цели за окно. Повторные вызовы в пределах окна дают false.
	FirstWithin(ctx context.Context, kind, target string, window time.Duration) (bool, error)
}

// OnScorerDegradedHandler обрабатывает событие деградации оценщика.
type OnScorerDegradedHandler struct {
	deduper AlertDeduper

	sender notification.NotificationSender
	ids    shared.IDGenerator

	logger *slog.Logger
	config ScorerDegradedConfig
}

// ScorerDegradedConfig содержит конфигурацию обработчика.
type ScorerDegradedConfig struct {
	// OpsChatID — чат операторов для оповещений. 0 отключает оповещения.
	OpsChatID int64

	// DedupWindow — окно подавления повторных оповещений по одной партии.
	DedupWindow time.Duration
}

// DefaultScorerDegradedConfig возвращает конфигурацию по умолчанию.
func DefaultScorerDegradedConfig() ScorerDegradedConfig {
	return ScorerDegradedConfig{
		DedupWindow: 6 * time.Hour,
	}
}

// NewOnScorerDegradedHandler создаёт новый обработчик деградации оценщика.
func NewOnScorerDegradedHandler(
	deduper AlertDeduper,
	sender notification.NotificationSender,
	ids shared.IDGenerator,
	logger *slog.Logger,
	config ScorerDegradedConfig,
) *OnScorerDegradedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = DefaultScorerDegradedConfig().DedupWindow
	}

	return &OnScorerDegradedHandler{
		deduper: deduper,
		sender:  sender,
		ids:     ids,
		logger:  logger.With("handler", "on_scorer_degraded"),
		config:  config,
	}
}

// Handle обрабатывает событие деградации оценщика.
// Реализует интерфейс shared.EventHandler.
func (h *OnScorerDegradedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	degraded, ok := event.(shared.ScorerDegradedEvent)
	if !ok {
		h.logger.Warn("received non-ScorerDegradedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	h.logger.Warn("scorer degraded",
		"batch_id", degraded.BatchID,
		"candidate_id", degraded.AggregateID(),
		"cause", degraded.Cause,
	)

	if h.config.OpsChatID == 0 {
		return nil
	}

	// 1. Дедупликация по партии: событие приходит на каждый кандидат.
	// Сбой дедупликатора не глушит оповещение, дубль дешевле тишины.
	// Без дедупликатора (Redis выключен) оповещаем на каждое событие.
	if h.deduper != nil {
		first, err := h.deduper.FirstWithin(ctx, "scorer_degraded", degraded.BatchID, h.config.DedupWindow)
		if err != nil {
			h.logger.Warn("alert dedup check failed, sending anyway",
				"batch_id", degraded.BatchID,
				"error", err,
			)
		} else if !first {
			h.logger.Debug("alert already sent for batch, skipping",
				"batch_id", degraded.BatchID,
			)
			return nil
		}
	}

	// 2. Оповещаем операторов
	if err := h.sendAlert(ctx, degraded); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}

	h.logger.Info("ops alert sent",
		"batch_id", degraded.BatchID,
		"ops_chat_id", h.config.OpsChatID,
	)

	return nil
}

// sendAlert отправляет оповещение в чат операторов.
func (h *OnScorerDegradedHandler) sendAlert(ctx context.Context, degraded shared.ScorerDegradedEvent) error {
	message := fmt.Sprintf(
		"%s Деградация модерации\n\nАвтоматический оценщик недоступен, партия %s оценивается упрощённой проверкой.\nПричина: %s",
		notification.NotificationTypeModerationDegraded.Emoji(),
		degraded.BatchID,
		degraded.Cause,
	)

	notif, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      notification.NotificationID(h.ids.NewID()),
		Type:    notification.NotificationTypeModerationDegraded,
		ChatID:  notification.ChatID(h.config.OpsChatID),
		Message: message,
		Data: notification.NotificationData{
			BatchID:  degraded.BatchID,
			Degraded: true,
			Reason:   degraded.Cause,
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
func (h *OnScorerDegradedHandler) EventType() shared.EventType {
	return shared.EventScorerDegraded
}
