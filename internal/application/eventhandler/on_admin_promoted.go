// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ADMIN PROMOTED HANDLER
// Приветствует нового администратора после активации кода доступа.
// ═══════════════════════════════════════════════════════════════════════════

// OnAdminPromotedHandler обрабатывает событие назначения администратора.
type OnAdminPromotedHandler struct {
	adminRepo admin.Repository

	sender notification.NotificationSender
	ids    shared.IDGenerator

	logger *slog.Logger
}

// NewOnAdminPromotedHandler создаёт новый обработчик назначения администратора.
func NewOnAdminPromotedHandler(
	adminRepo admin.Repository,
	sender notification.NotificationSender,
	ids shared.IDGenerator,
	logger *slog.Logger,
) *OnAdminPromotedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnAdminPromotedHandler{
		adminRepo: adminRepo,
		sender:    sender,
		ids:       ids,
		logger:    logger.With("handler", "on_admin_promoted"),
	}
}

// Handle обрабатывает событие назначения администратора.
// Реализует интерфейс shared.EventHandler.
func (h *OnAdminPromotedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	promoted, ok := event.(shared.AdminPromotedEvent)
	if !ok {
		h.logger.Warn("received non-AdminPromotedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	telegramID, err := strconv.ParseInt(promoted.AggregateID(), 10, 64)
	if err != nil {
		h.logger.Warn("event carries non-numeric admin id, skipping",
			"aggregate_id", promoted.AggregateID(),
		)
		return nil
	}

	h.logger.Info("processing admin promoted event",
		"admin_id", telegramID,
		"promoted_by", promoted.PromotedBy,
	)

	newAdmin, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(telegramID))
	if err != nil {
		return fmt.Errorf("get admin: %w", err)
	}

	if err := h.sendWelcome(ctx, newAdmin, promoted); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	h.logger.Info("welcome sent",
		"admin_id", telegramID,
		"role", newAdmin.Role,
	)

	return nil
}

// sendWelcome отправляет приветствие новому администратору.
func (h *OnAdminPromotedHandler) sendWelcome(
	ctx context.Context,
	newAdmin *admin.Admin,
	promoted shared.AdminPromotedEvent,
) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s, вам выдан доступ к конвейеру контента!\n\n",
		notification.NotificationTypeReviewerWelcome.Emoji(),
		newAdmin.DisplayName(),
	)
	fmt.Fprintf(&b, "Роль: %s\n", newAdmin.Role)

	switch {
	case promoted.CourseID > 0:
		b.WriteString("Область ревью: назначенный курс.\n")
	case promoted.UniversityID > 0:
		b.WriteString("Область ревью: назначенный университет.\n")
	default:
		b.WriteString("Область ревью: без ограничений.\n")
	}

	b.WriteString("\nКоманды:\n")
	b.WriteString("/upload — загрузить материал\n")
	b.WriteString("/queue — очередь партий на ревью\n")
	b.WriteString("/mystats — ваша статистика")

	notif, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      notification.NotificationID(h.ids.NewID()),
		Type:    notification.NotificationTypeReviewerWelcome,
		ChatID:  notification.ChatID(newAdmin.TelegramID.Int64()),
		Message: b.String(),
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
func (h *OnAdminPromotedHandler) EventType() shared.EventType {
	return shared.EventAdminPromoted
}
