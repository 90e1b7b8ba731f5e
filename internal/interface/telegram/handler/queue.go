// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"errors"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEUE HANDLER
// Handles /queue - the review queue listing. Oldest batches come first,
// batches under someone else's unexpired lease are hidden, the admin's
// own leased batch is pinned with a "continue" button.
// ══════════════════════════════════════════════════════════════════════════════

// QueueHandler handles the /queue command.
type QueueHandler struct {
	queueQuery *query.ListReviewQueueHandler
	presenter  *presenter.QueuePresenter
	pageSize   int
}

// NewQueueHandler creates a new QueueHandler with dependencies.
func NewQueueHandler(
	queueQuery *query.ListReviewQueueHandler,
	queuePresenter *presenter.QueuePresenter,
	pageSize int,
) *QueueHandler {
	if pageSize <= 0 {
		pageSize = 10
	}

	return &QueueHandler{
		queueQuery: queueQuery,
		presenter:  queuePresenter,
		pageSize:   pageSize,
	}
}

// QueueRequest contains the parsed /queue command data.
type QueueRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64

	// Page is the requested queue page (1-based, 0 means first).
	Page int
}

// QueueResponse contains the response to send back.
type QueueResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// Handle processes the /queue command.
func (h *QueueHandler) Handle(ctx context.Context, req QueueRequest) (*QueueResponse, error) {
	page := req.Page
	if page <= 0 {
		page = 1
	}

	result, err := h.queueQuery.Handle(ctx, query.ListReviewQueueQuery{
		AdminID:  req.TelegramID,
		Page:     page,
		PageSize: h.pageSize,
	})
	if err != nil {
		return h.handleError(err)
	}

	view := h.presenter.FormatQueue(result)

	return &QueueResponse{
		Text:      view.Text,
		Keyboard:  view.Keyboard,
		ParseMode: view.ParseMode,
	}, nil
}

// HandlePage processes the queue pagination callback.
func (h *QueueHandler) HandlePage(ctx context.Context, req QueueRequest, page int) (*QueueResponse, error) {
	req.Page = page
	return h.Handle(ctx, req)
}

// handleError maps queue failures to user guidance.
func (h *QueueHandler) handleError(err error) (*QueueResponse, error) {
	if errors.Is(err, shared.ErrForbidden) {
		return &QueueResponse{
			Text: "🔐 Очередь ревью доступна только модераторам.\n\n" +
				"Если вам выдали код доступа — активируйте его через /start.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	return &QueueResponse{
		Text:      "❌ Не удалось загрузить очередь. Попробуйте ещё раз через минуту.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}
