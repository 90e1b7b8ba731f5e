// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// INVITE HANDLER
// Handles /invite - access code issuance by super-admins. The plaintext
// code exists only in the reply; only its hash is stored, so a lost code
// is reissued, never recovered.
// ══════════════════════════════════════════════════════════════════════════════

// InviteHandler handles the /invite command.
type InviteHandler struct {
	issueHandler *command.IssueAccessCodeHandler
	keyboards    *presenter.KeyboardBuilder
	botUsername  string
}

// NewInviteHandler creates a new InviteHandler with dependencies.
// botUsername (without @) builds the deep link; empty disables it.
func NewInviteHandler(
	issueHandler *command.IssueAccessCodeHandler,
	keyboards *presenter.KeyboardBuilder,
	botUsername string,
) *InviteHandler {
	return &InviteHandler{
		issueHandler: issueHandler,
		keyboards:    keyboards,
		botUsername:  strings.TrimPrefix(botUsername, "@"),
	}
}

// SetBotUsername sets the username used for deep links. The bot calls
// this after getMe, so deep links work without configuring the name.
func (h *InviteHandler) SetBotUsername(username string) {
	h.botUsername = strings.TrimPrefix(username, "@")
}

// InviteRequest contains the parsed /invite command data.
type InviteRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64

	// Args is the raw command argument string (an optional TTL).
	Args string
}

// InviteResponse contains the response to send back.
type InviteResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// Handle processes the /invite command.
func (h *InviteHandler) Handle(ctx context.Context, req InviteRequest) (*InviteResponse, error) {
	ttl, err := parseInviteTTL(req.Args)
	if err != nil {
		return h.handleBadTTL()
	}

	result, err := h.issueHandler.Handle(ctx, command.IssueAccessCodeCommand{
		IssuerID: req.TelegramID,
		TTL:      ttl,
	})
	if err != nil {
		return h.handleError(err)
	}

	return h.formatIssued(result), nil
}

// formatIssued builds the one-time code reveal message.
func (h *InviteHandler) formatIssued(result *command.IssueAccessCodeResult) *InviteResponse {
	var sb strings.Builder

	sb.WriteString("🎟 <b>Код доступа выдан</b>\n\n")
	sb.WriteString(fmt.Sprintf("<code>%s</code>\n\n", escapeHTML(result.Code)))
	sb.WriteString(fmt.Sprintf("Действует до: <b>%s</b>\n", result.ExpiresAt.Format("02.01.2006 15:04")))
	sb.WriteString("Одноразовый: после активации станет недействительным.\n\n")

	if h.botUsername != "" {
		sb.WriteString("Ссылка-приглашение:\n")
		sb.WriteString(fmt.Sprintf("https://t.me/%s?start=%s\n\n", h.botUsername, result.Code))
	}

	sb.WriteString("⚠️ <i>Код показан только сейчас и нигде не хранится. " +
		"Передайте его лично приглашаемому.</i>")

	return &InviteResponse{
		Text:      sb.String(),
		ParseMode: "HTML",
	}
}

// handleBadTTL explains the TTL argument format.
func (h *InviteHandler) handleBadTTL() (*InviteResponse, error) {
	return &InviteResponse{
		Text: "❌ <b>Не понял срок действия</b>\n\n" +
			"Примеры:\n" +
			"<code>/invite</code> — срок по умолчанию\n" +
			"<code>/invite 48h</code> — двое суток\n" +
			"<code>/invite 30m</code> — полчаса",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// handleError maps issuance failures to user guidance.
func (h *InviteHandler) handleError(err error) (*InviteResponse, error) {
	if errors.Is(err, shared.ErrForbidden) {
		return &InviteResponse{
			Text:      "🔐 Выдавать коды доступа могут только супер-администраторы.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	return &InviteResponse{
		Text:      "❌ Не удалось выдать код. Попробуйте ещё раз через минуту.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// parseInviteTTL parses the optional TTL argument.
// Bare numbers mean hours; otherwise Go duration syntax applies.
func parseInviteTTL(args string) (time.Duration, error) {
	arg := strings.TrimSpace(args)
	if arg == "" {
		return 0, nil
	}

	if hours, err := time.ParseDuration(arg + "h"); err == nil && !strings.ContainsAny(arg, "hms") {
		return hours, nil
	}

	ttl, err := time.ParseDuration(arg)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, errors.New("ttl must be positive")
	}

	return ttl, nil
}
