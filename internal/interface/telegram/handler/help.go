// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// HELP HANDLER
// Handles /help - the command reference and a short tour of the moderation
// pipeline. The text adapts to the admin's role: uploaders see the upload
// flow, reviewers see the review flow, super-admins see team management.
// ══════════════════════════════════════════════════════════════════════════════

// HelpHandler handles the /help command.
type HelpHandler struct {
	adminRepo admin.Repository
	keyboards *presenter.KeyboardBuilder
}

// NewHelpHandler creates a new HelpHandler with dependencies.
func NewHelpHandler(adminRepo admin.Repository, keyboards *presenter.KeyboardBuilder) *HelpHandler {
	return &HelpHandler{
		adminRepo: adminRepo,
		keyboards: keyboards,
	}
}

// HelpRequest contains the parsed /help command data.
type HelpRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64
}

// HelpResponse contains the response to send back.
type HelpResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// Handle processes the /help command.
func (h *HelpHandler) Handle(ctx context.Context, req HelpRequest) (*HelpResponse, error) {
	adm, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(req.TelegramID))
	if err != nil || adm == nil || !adm.IsActive {
		return h.handleNotRegistered()
	}

	text := h.buildHelpText(adm)

	return &HelpResponse{
		Text:      text,
		Keyboard:  h.keyboards.MainMenuKeyboard(adm.Role),
		ParseMode: "HTML",
	}, nil
}

// handleNotRegistered handles the case when user is not registered.
func (h *HelpHandler) handleNotRegistered() (*HelpResponse, error) {
	text := "🔐 <b>Доступ по приглашению</b>\n\n" +
		"Этот бот предназначен для команды модерации банка вопросов.\n\n" +
		"Если у вас есть код доступа — отправьте /start и введите его."

	return &HelpResponse{
		Text:      text,
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// buildHelpText builds the role-aware help text.
func (h *HelpHandler) buildHelpText(adm *admin.Admin) string {
	var sb strings.Builder

	sb.WriteString("📖 <b>Как устроена модерация</b>\n\n")
	sb.WriteString("1️⃣ Вы загружаете материал: PDF, фото конспекта или текст.\n")
	sb.WriteString("2️⃣ Бот извлекает вопросы и прогоняет каждый через автооценку.\n")
	sb.WriteString("3️⃣ Партия попадает в очередь ревью.\n")
	sb.WriteString("4️⃣ Ревьюер берёт партию и решает судьбу каждого вопроса.\n")
	sb.WriteString("5️⃣ Принятые вопросы публикуются в банк для студентов.\n\n")

	sb.WriteString("<b>Отметки автооценки:</b>\n")
	sb.WriteString("✅ авто-приём — оценка 80 и выше\n")
	sb.WriteString("⚠️ требует проверки — оценка 40–79\n")
	sb.WriteString("❌ авто-отказ — оценка ниже 40\n")
	sb.WriteString("<i>Последнее слово всегда за ревьюером: любую отметку можно изменить.</i>\n\n")

	sb.WriteString("<b>Загрузка материала:</b>\n")
	sb.WriteString("• /upload — выбрать тему и отправить материал\n")
	sb.WriteString("• Поддерживаются PDF, фотографии и обычный текст\n\n")

	sb.WriteString("<b>Ревью:</b>\n")
	sb.WriteString("• /queue — очередь партий, ждущих проверки\n")
	sb.WriteString("• Партия закрепляется за вами на 15 минут\n")
	sb.WriteString("• Каждое решение продлевает аренду\n")
	sb.WriteString("• Если аренда истекла, партию может забрать другой ревьюер — ")
	sb.WriteString("принятые решения при этом сохраняются\n\n")

	sb.WriteString("<b>Статистика:</b>\n")
	sb.WriteString("• /mystats — ваши загрузки и доля одобрения\n")
	sb.WriteString("• /preview &lt;id темы&gt; — что уже опубликовано по теме\n\n")

	if adm.Role == shared.RoleSuperAdmin {
		sb.WriteString("<b>Управление командой:</b>\n")
		sb.WriteString("• /invite — выдать код доступа новому модератору\n")
		sb.WriteString("• /invite 48h — код с собственным сроком жизни\n")
		sb.WriteString("• /audit batch &lt;id&gt; — журнал действий по партии\n")
		sb.WriteString("• /audit candidate &lt;id&gt; — журнал по вопросу\n")
		sb.WriteString("• /audit admin &lt;id&gt; — действия администратора\n")
		sb.WriteString("• /status — счётчики, латентность и сбои бота\n\n")
	}

	sb.WriteString("<i>Вопросы или сбои — напишите администратору курса.</i>")

	return sb.String()
}
