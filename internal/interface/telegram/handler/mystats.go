// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"errors"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// MYSTATS HANDLER
// Handles /mystats - contributor statistics. The personal view shows the
// admin's own uploads and approval rate; the top view ranks the team by
// approved questions.
// ══════════════════════════════════════════════════════════════════════════════

// MyStatsHandler handles the /mystats command.
type MyStatsHandler struct {
	statsQuery *query.GetContributorStatsHandler
	adminRepo  admin.Repository
	presenter  *presenter.StatsPresenter
	topLimit   int
}

// NewMyStatsHandler creates a new MyStatsHandler with dependencies.
func NewMyStatsHandler(
	statsQuery *query.GetContributorStatsHandler,
	adminRepo admin.Repository,
	statsPresenter *presenter.StatsPresenter,
) *MyStatsHandler {
	return &MyStatsHandler{
		statsQuery: statsQuery,
		adminRepo:  adminRepo,
		presenter:  statsPresenter,
		topLimit:   10,
	}
}

// MyStatsRequest contains the parsed /mystats command data.
type MyStatsRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64
}

// MyStatsResponse contains the response to send back.
type MyStatsResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// Handle processes the /mystats command: the personal view.
func (h *MyStatsHandler) Handle(ctx context.Context, req MyStatsRequest) (*MyStatsResponse, error) {
	adm, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(req.TelegramID))
	if err != nil || adm == nil || !adm.IsActive {
		return h.handleNotRegistered()
	}

	result, err := h.statsQuery.Handle(ctx, query.GetContributorStatsQuery{
		UploaderID: req.TelegramID,
	})
	if err != nil {
		return h.handleError(err)
	}

	view := h.presenter.FormatPersonalStats(adm.DisplayName(), result)

	return h.viewResponse(view), nil
}

// HandleTop processes the top contributors callback.
func (h *MyStatsHandler) HandleTop(ctx context.Context, req MyStatsRequest) (*MyStatsResponse, error) {
	result, err := h.statsQuery.Handle(ctx, query.GetContributorStatsQuery{
		Limit: h.topLimit,
	})
	if err != nil {
		return h.handleError(err)
	}

	view := h.presenter.FormatTopContributors(result, req.TelegramID)

	return h.viewResponse(view), nil
}

// handleNotRegistered handles the case when user is not registered.
func (h *MyStatsHandler) handleNotRegistered() (*MyStatsResponse, error) {
	return &MyStatsResponse{
		Text: "🔐 Статистика доступна только команде модерации.\n\n" +
			"Если вам выдали код доступа — активируйте его через /start.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// handleError maps stats failures to user guidance.
func (h *MyStatsHandler) handleError(err error) (*MyStatsResponse, error) {
	if errors.Is(err, shared.ErrForbidden) {
		return h.handleNotRegistered()
	}

	return &MyStatsResponse{
		Text:      "❌ Не удалось собрать статистику. Попробуйте ещё раз через минуту.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// viewResponse converts a presenter view into a response.
func (h *MyStatsHandler) viewResponse(view *presenter.StatsView) *MyStatsResponse {
	return &MyStatsResponse{
		Text:      view.Text,
		Keyboard:  view.Keyboard,
		ParseMode: view.ParseMode,
	}
}
