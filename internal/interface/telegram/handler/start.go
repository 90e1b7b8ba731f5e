// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// START HANDLER
// Handles /start - the entry point for both registered admins and invited
// users. The bot is invite-only: a new user becomes an admin by presenting
// an access code, either as a deep-link parameter or as a typed message.
// ══════════════════════════════════════════════════════════════════════════════

// StartHandler handles the /start command and access-code redemption.
type StartHandler struct {
	redeemHandler *command.RedeemAccessCodeHandler
	adminRepo     admin.Repository
	keyboards     *presenter.KeyboardBuilder
}

// NewStartHandler creates a new StartHandler with dependencies.
func NewStartHandler(
	redeemHandler *command.RedeemAccessCodeHandler,
	adminRepo admin.Repository,
	keyboards *presenter.KeyboardBuilder,
) *StartHandler {
	return &StartHandler{
		redeemHandler: redeemHandler,
		adminRepo:     adminRepo,
		keyboards:     keyboards,
	}
}

// StartRequest contains the parsed /start command data.
type StartRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// TelegramUsername is the user's Telegram username (without @).
	TelegramUsername string

	// FirstName is the user's first name from Telegram.
	FirstName string

	// DeepLinkParam is the parameter passed via deep link
	// (e.g., /start QZ-ABCD-1234 from an invite link).
	DeepLinkParam string

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64
}

// StartResponse contains the response to send back.
type StartResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// Handle processes the /start command.
func (h *StartHandler) Handle(ctx context.Context, req StartRequest) (*StartResponse, error) {
	// Check if user is already registered
	existing, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(req.TelegramID))
	if err == nil && existing != nil && existing.IsActive {
		// A deep-linked code from a registered admin still redeems:
		// super-admins hand out promotion codes the same way.
		if req.DeepLinkParam != "" {
			return h.handleRedeem(ctx, req)
		}
		return h.handleExistingAdmin(existing)
	}

	// New user with a code in the deep link
	if req.DeepLinkParam != "" {
		return h.handleRedeem(ctx, req)
	}

	// No code provided - explain how to get in
	return h.handleAskForCode(req)
}

// handleExistingAdmin greets a registered admin.
func (h *StartHandler) handleExistingAdmin(adm *admin.Admin) (*StartResponse, error) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("С возвращением, <b>%s</b>! 👋\n\n", escapeHTML(adm.DisplayName())))
	sb.WriteString(fmt.Sprintf("Ваша роль: %s\n\n", roleLabel(adm.Role)))

	sb.WriteString("<b>Основные команды:</b>\n")
	sb.WriteString("• /upload — загрузить материал с вопросами\n")
	sb.WriteString("• /queue — очередь партий на ревью\n")
	sb.WriteString("• /mystats — ваша статистика автора\n")
	if adm.Role == shared.RoleSuperAdmin {
		sb.WriteString("• /invite — выдать код доступа\n")
		sb.WriteString("• /audit — журнал аудита\n")
	}
	sb.WriteString("• /help — подробная справка\n")

	return &StartResponse{
		Text:      sb.String(),
		Keyboard:  h.keyboards.MainMenuKeyboard(adm.Role),
		ParseMode: "HTML",
	}, nil
}

// handleAskForCode explains the invite-only access to an unknown user.
func (h *StartHandler) handleAskForCode(req StartRequest) (*StartResponse, error) {
	greeting := "коллега"
	if req.FirstName != "" {
		greeting = req.FirstName
	}

	text := fmt.Sprintf(
		"Здравствуйте, %s! 👋\n\n"+
			"Это <b>MedQuiz Content Hub</b> — бот команды модерации банка "+
			"вопросов для студентов-медиков.\n\n"+
			"Доступ только по приглашению. Если администратор курса выдал "+
			"вам код доступа, отправьте его сообщением:\n"+
			"<code>QZ-XXXX-XXXX</code>\n\n"+
			"<i>Или откройте пригласительную ссылку ещё раз.</i>",
		escapeHTML(greeting),
	)

	return &StartResponse{
		Text:      text,
		Keyboard:  h.keyboards.OnboardingKeyboard(),
		ParseMode: "HTML",
	}, nil
}

// handleRedeem redeems an access code for the user.
func (h *StartHandler) handleRedeem(ctx context.Context, req StartRequest) (*StartResponse, error) {
	code := cleanAccessCode(req.DeepLinkParam)
	if !isValidAccessCode(code) {
		return h.handleInvalidCode()
	}

	result, err := h.redeemHandler.Handle(ctx, command.RedeemAccessCodeCommand{
		UserID:    req.TelegramID,
		Username:  req.TelegramUsername,
		FirstName: req.FirstName,
		Code:      code,
	})
	if err != nil {
		return h.handleRedeemError(err)
	}

	return h.handleRedeemSuccess(req, result)
}

// handleInvalidCode handles a malformed code.
func (h *StartHandler) handleInvalidCode() (*StartResponse, error) {
	return &StartResponse{
		Text: "❌ <b>Это не похоже на код доступа</b>\n\n" +
			"Код выглядит так: <code>QZ-XXXX-XXXX</code>\n" +
			"Скопируйте его целиком из приглашения и отправьте одним сообщением.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// handleRedeemError maps redemption failures to user guidance.
func (h *StartHandler) handleRedeemError(err error) (*StartResponse, error) {
	switch {
	case errors.Is(err, admin.ErrCodeNotFound):
		return &StartResponse{
			Text: "❌ <b>Код не подошёл</b>\n\n" +
				"Такой код не найден среди действующих.\n" +
				"Проверьте, что код скопирован без лишних символов, " +
				"или запросите новый у администратора курса.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil

	case errors.Is(err, admin.ErrCodeExpired):
		return &StartResponse{
			Text: "⌛ <b>Срок действия кода истёк</b>\n\n" +
				"Коды доступа живут ограниченное время.\n" +
				"Запросите новый код у администратора курса.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil

	case errors.Is(err, admin.ErrCodeUsed):
		return &StartResponse{
			Text: "⚠️ <b>Код уже использован</b>\n\n" +
				"Каждый код действует один раз.\n" +
				"Если его активировали не вы, сообщите администратору курса.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil

	case errors.Is(err, admin.ErrCodeRevoked):
		return &StartResponse{
			Text: "🚫 <b>Код отозван</b>\n\n" +
				"Администратор отозвал это приглашение.\n" +
				"Свяжитесь с ним, чтобы получить новое.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	// Generic error
	return &StartResponse{
		Text: "❌ <b>Не удалось активировать код</b>\n\n" +
			"Попробуйте ещё раз через минуту.\n" +
			"Если не помогает — напишите администратору курса.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// handleRedeemSuccess welcomes a freshly promoted admin.
func (h *StartHandler) handleRedeemSuccess(req StartRequest, result *command.RedeemAccessCodeResult) (*StartResponse, error) {
	role := shared.Role(result.Role)

	name := req.FirstName
	if name == "" {
		name = req.TelegramUsername
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🎉 <b>Добро пожаловать в команду, %s!</b>\n\n", escapeHTML(name)))
	sb.WriteString(fmt.Sprintf("Код принят. Ваша роль: %s\n\n", roleLabel(role)))

	sb.WriteString("<b>С чего начать:</b>\n")
	sb.WriteString("• /upload — превратить конспект или PDF в вопросы\n")
	sb.WriteString("• /queue — взять партию на ревью\n")
	sb.WriteString("• /help — как устроена модерация\n\n")

	sb.WriteString("<i>Каждый загруженный документ автоматически разбирается " +
		"на вопросы и проходит предварительную оценку. Ревьюеру остаётся " +
		"принять или отклонить каждый вопрос.</i>")

	return &StartResponse{
		Text:      sb.String(),
		Keyboard:  h.keyboards.MainMenuKeyboard(role),
		ParseMode: "HTML",
	}, nil
}

// HandleTextMessage handles plain text messages (access code input).
func (h *StartHandler) HandleTextMessage(ctx context.Context, req StartRequest, text string) (*StartResponse, error) {
	// Registered admins get a gentle pointer back to commands
	existing, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(req.TelegramID))
	if err == nil && existing != nil && existing.IsActive {
		return &StartResponse{
			Text: "Вы уже в команде! 👋\n\n" +
				"Команда /queue покажет очередь ревью, /upload примет новый материал.",
			Keyboard:  h.keyboards.MainMenuKeyboard(existing.Role),
			ParseMode: "HTML",
		}, nil
	}

	// Treat the text as an access code attempt
	req.DeepLinkParam = text
	return h.handleRedeem(ctx, req)
}

// PromptForCode is the reply to the "enter code" onboarding button.
func (h *StartHandler) PromptForCode() *StartResponse {
	return &StartResponse{
		Text: "🔑 Отправьте код доступа одним сообщением.\n\n" +
			"Он выглядит так: <code>QZ-XXXX-XXXX</code>",
		ParseMode: "HTML",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// accessCodeRegex matches plausible access codes.
var accessCodeRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-_]{6,62}[A-Za-z0-9]$`)

// cleanAccessCode normalizes access code input.
func cleanAccessCode(input string) string {
	code := strings.TrimSpace(input)
	code = strings.Trim(code, "\"'`")
	return code
}

// isValidAccessCode checks if the string is shaped like an access code.
func isValidAccessCode(code string) bool {
	return accessCodeRegex.MatchString(code)
}

// roleLabel returns a human-readable role name.
func roleLabel(role shared.Role) string {
	switch role {
	case shared.RoleSuperAdmin:
		return "👑 супер-администратор"
	case shared.RoleAdmin:
		return "🛡 администратор"
	default:
		return string(role)
	}
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
	)
	return replacer.Replace(s)
}
