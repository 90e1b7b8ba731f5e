// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT HANDLER
// Handles /audit - the audit trail browser for super-admins.
// Target mode walks the history of one batch, candidate or admin record;
// actor mode lists recent actions of one admin.
// The trail query itself is unrestricted, so the role gate lives here.
// ══════════════════════════════════════════════════════════════════════════════

// auditPageLimit is the number of records per page in the bot view.
const auditPageLimit = 10

// AuditHandler handles the /audit command.
type AuditHandler struct {
	trailQuery *query.GetAuditTrailHandler
	adminRepo  admin.Repository
	presenter  *presenter.StatsPresenter
}

// NewAuditHandler creates a new AuditHandler with dependencies.
func NewAuditHandler(
	trailQuery *query.GetAuditTrailHandler,
	adminRepo admin.Repository,
	statsPresenter *presenter.StatsPresenter,
) *AuditHandler {
	return &AuditHandler{
		trailQuery: trailQuery,
		adminRepo:  adminRepo,
		presenter:  statsPresenter,
	}
}

// AuditRequest contains the parsed /audit command data.
type AuditRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64

	// Args is the raw command argument string.
	Args string
}

// AuditResponse contains the response to send back.
type AuditResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// Handle processes the /audit command.
func (h *AuditHandler) Handle(ctx context.Context, req AuditRequest) (*AuditResponse, error) {
	if resp := h.requireSuperAdmin(ctx, req.TelegramID); resp != nil {
		return resp, nil
	}

	fields := strings.Fields(req.Args)
	if len(fields) < 2 {
		return h.handleUsage()
	}

	mode := strings.ToLower(fields[0])
	id := fields[1]

	switch mode {
	case "batch", "candidate", "admin":
		return h.showTargetPage(ctx, mode, id, 0)

	case "actor":
		days := 7
		if len(fields) >= 3 {
			if d, err := strconv.Atoi(fields[2]); err == nil {
				days = d
			}
		}
		return h.showActorTrail(ctx, id, days)
	}

	return h.handleUsage()
}

// HandlePage processes the audit pagination callback.
func (h *AuditHandler) HandlePage(ctx context.Context, req AuditRequest, kind, id string, offset int) (*AuditResponse, error) {
	if resp := h.requireSuperAdmin(ctx, req.TelegramID); resp != nil {
		return resp, nil
	}

	return h.showTargetPage(ctx, kind, id, offset)
}

// showTargetPage renders one page of a target's trail.
func (h *AuditHandler) showTargetPage(ctx context.Context, kind, id string, offset int) (*AuditResponse, error) {
	result, err := h.trailQuery.Handle(ctx, query.GetAuditTrailQuery{
		TargetKind: kind,
		TargetID:   id,
		Limit:      auditPageLimit,
		Offset:     offset,
	})
	if err != nil {
		return h.handleError(err)
	}

	view := h.presenter.FormatAuditTrail(kind, id, offset, auditPageLimit, result)

	return h.viewResponse(view), nil
}

// showActorTrail renders the recent actions of one admin.
func (h *AuditHandler) showActorTrail(ctx context.Context, id string, days int) (*AuditResponse, error) {
	actorID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || actorID <= 0 {
		return h.handleUsage()
	}

	result, err := h.trailQuery.Handle(ctx, query.GetAuditTrailQuery{
		ActorID: actorID,
		Days:    days,
		Limit:   auditPageLimit * 2,
	})
	if err != nil {
		return h.handleError(err)
	}

	view := h.presenter.FormatAuditTrail("actor", id, 0, auditPageLimit*2, result)

	return h.viewResponse(view), nil
}

// requireSuperAdmin returns an error response for non super-admins.
func (h *AuditHandler) requireSuperAdmin(ctx context.Context, telegramID int64) *AuditResponse {
	adm, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(telegramID))
	if err != nil || adm == nil || !adm.IsActive || adm.Role != shared.RoleSuperAdmin {
		return &AuditResponse{
			Text:      "🔐 Журнал аудита доступен только супер-администраторам.",
			ParseMode: "HTML",
			IsError:   true,
		}
	}
	return nil
}

// handleUsage explains the command syntax.
func (h *AuditHandler) handleUsage() (*AuditResponse, error) {
	text := "📜 <b>Журнал аудита</b>\n\n" +
		"Использование:\n" +
		"<code>/audit batch &lt;id&gt;</code> — история партии\n" +
		"<code>/audit candidate &lt;id&gt;</code> — история вопроса\n" +
		"<code>/audit admin &lt;telegram-id&gt;</code> — изменения записи администратора\n" +
		"<code>/audit actor &lt;telegram-id&gt; [дней]</code> — действия администратора\n\n" +
		"<i>Идентификаторы партий и вопросов есть в ответах бота и в очереди ревью.</i>"

	return &AuditResponse{
		Text:      text,
		ParseMode: "HTML",
	}, nil
}

// handleError maps trail failures to user guidance.
func (h *AuditHandler) handleError(err error) (*AuditResponse, error) {
	if shared.IsValidation(err) {
		return h.handleUsage()
	}

	return &AuditResponse{
		Text:      "❌ Не удалось загрузить журнал. Попробуйте ещё раз через минуту.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// viewResponse converts a presenter view into a response.
func (h *AuditHandler) viewResponse(view *presenter.StatsView) *AuditResponse {
	return &AuditResponse{
		Text:      view.Text,
		Keyboard:  view.Keyboard,
		ParseMode: view.ParseMode,
	}
}
