// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"errors"
	"sync"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW HANDLER
// Drives the review loop: claim a batch, walk its candidates one card at
// a time, accept or reject each, release or abandon when needed.
// Every decision extends the lease, so an active reviewer never loses
// the batch mid-stream.
// ══════════════════════════════════════════════════════════════════════════════

// ReviewHandler handles the review callbacks.
type ReviewHandler struct {
	acquireLock *command.AcquireLockHandler
	decide      *command.DecideCandidateHandler
	releaseLock *command.ReleaseLockHandler
	abandon     *command.AbandonBatchHandler
	cardQuery   *query.GetReviewCardHandler
	presenter   *presenter.ReviewCardPresenter

	// The review:accept / review:reject callbacks carry only the
	// candidate id, so the batch of the card each admin is looking at
	// is remembered here.
	mu        sync.RWMutex
	openCards map[int64]openCard
}

// openCard is the card an admin currently has on screen.
type openCard struct {
	CandidateID string
	BatchID     string
}

// NewReviewHandler creates a new ReviewHandler with dependencies.
func NewReviewHandler(
	acquireLock *command.AcquireLockHandler,
	decide *command.DecideCandidateHandler,
	releaseLock *command.ReleaseLockHandler,
	abandon *command.AbandonBatchHandler,
	cardQuery *query.GetReviewCardHandler,
	cardPresenter *presenter.ReviewCardPresenter,
) *ReviewHandler {
	return &ReviewHandler{
		acquireLock: acquireLock,
		decide:      decide,
		releaseLock: releaseLock,
		abandon:     abandon,
		cardQuery:   cardQuery,
		presenter:   cardPresenter,
		openCards:   make(map[int64]openCard),
	}
}

// ReviewRequest contains the parsed review callback data.
type ReviewRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64
}

// ReviewResponse contains the response to send back.
type ReviewResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool

	// Toast is a short text for the callback answer popup.
	Toast string

	// ShowAlert makes the callback answer a modal alert.
	ShowAlert bool
}

// HandleClaim processes the batch claim callback.
func (h *ReviewHandler) HandleClaim(ctx context.Context, req ReviewRequest, batchID string) (*ReviewResponse, error) {
	result, err := h.acquireLock.Handle(ctx, command.AcquireLockCommand{
		BatchID: batchID,
		AdminID: req.TelegramID,
	})
	if err != nil {
		return h.handleClaimError(err)
	}

	var notice string
	switch {
	case result.Reclaimed:
		notice = h.presenter.ReclaimNotice(result.PreviousHolder)
	case result.Refreshed:
		notice = h.presenter.RefreshNotice()
	}

	return h.showCard(ctx, req, batchID, notice, "")
}

// HandleDecision processes the accept/reject callback on a candidate.
func (h *ReviewHandler) HandleDecision(ctx context.Context, req ReviewRequest, candidateID, verdict string) (*ReviewResponse, error) {
	result, err := h.decide.Handle(ctx, command.DecideCandidateCommand{
		CandidateID: candidateID,
		AdminID:     req.TelegramID,
		Verdict:     verdict,
	})
	if err != nil {
		return h.handleDecisionError(ctx, req, err)
	}

	if result.BatchCompleted {
		h.forgetCard(req.TelegramID)

		view := h.presenter.FormatBatchCompleted(&query.GetReviewCardResult{
			Done:    true,
			Decided: result.Total,
			Total:   result.Total,
		})
		return h.viewResponse(view, h.presenter.DecisionToast(verdict)), nil
	}

	return h.showCard(ctx, req, result.BatchID, "", h.presenter.DecisionToast(verdict))
}

// HandleRelease processes the lock release callback.
func (h *ReviewHandler) HandleRelease(ctx context.Context, req ReviewRequest, batchID string) (*ReviewResponse, error) {
	result, err := h.releaseLock.Handle(ctx, command.ReleaseLockCommand{
		BatchID: batchID,
		AdminID: req.TelegramID,
	})
	if err != nil {
		return h.handleLeaseError(err)
	}

	h.forgetCard(req.TelegramID)

	if result.Completed {
		view := h.presenter.FormatBatchCompleted(&query.GetReviewCardResult{Done: true})
		return h.viewResponse(view, ""), nil
	}

	view := h.presenter.FormatReleased(batchID, result.PendingLeft)
	return h.viewResponse(view, "⏸ Партия отложена"), nil
}

// HandleAbandonPrompt shows the abandon confirmation.
func (h *ReviewHandler) HandleAbandonPrompt(ctx context.Context, req ReviewRequest, batchID string) (*ReviewResponse, error) {
	pending := 0
	if card, err := h.cardQuery.Handle(ctx, query.GetReviewCardQuery{
		BatchID: batchID,
		AdminID: req.TelegramID,
	}); err == nil {
		pending = card.Total - card.Decided
	}

	view := h.presenter.FormatAbandonConfirm(batchID, pending)
	return h.viewResponse(view, ""), nil
}

// HandleAbandonConfirm abandons the batch after confirmation.
func (h *ReviewHandler) HandleAbandonConfirm(ctx context.Context, req ReviewRequest, batchID string) (*ReviewResponse, error) {
	result, err := h.abandon.Handle(ctx, command.AbandonBatchCommand{
		BatchID: batchID,
		ActorID: req.TelegramID,
		Reason:  "closed from review card",
	})
	if err != nil {
		return h.handleLeaseError(err)
	}

	h.forgetCard(req.TelegramID)

	view := h.presenter.FormatAbandoned(result.PendingLeft)
	return h.viewResponse(view, "🗑 Партия закрыта"), nil
}

// showCard fetches and renders the next undecided candidate.
func (h *ReviewHandler) showCard(ctx context.Context, req ReviewRequest, batchID, notice, toast string) (*ReviewResponse, error) {
	card, err := h.cardQuery.Handle(ctx, query.GetReviewCardQuery{
		BatchID: batchID,
		AdminID: req.TelegramID,
	})
	if err != nil {
		return h.handleLeaseError(err)
	}

	if card.Done || card.Card == nil {
		h.forgetCard(req.TelegramID)
	} else {
		h.rememberCard(req.TelegramID, card.Card.CandidateID, batchID)
	}

	view := h.presenter.FormatReviewCard(batchID, card, notice)
	return h.viewResponse(view, toast), nil
}

// handleClaimError maps claim failures to user guidance.
func (h *ReviewHandler) handleClaimError(err error) (*ReviewResponse, error) {
	switch {
	case shared.IsLockConflict(err):
		return &ReviewResponse{
			Text:      h.presenter.LockConflictMessage(),
			ParseMode: "HTML",
			IsError:   true,
			Toast:     "🔒 Партия занята",
		}, nil

	case errors.Is(err, shared.ErrTerminalState):
		return &ReviewResponse{
			Text:      "🏁 Эта партия уже завершена. Выберите другую из очереди: /queue",
			ParseMode: "HTML",
			IsError:   true,
		}, nil

	case shared.IsNotFound(err):
		return &ReviewResponse{
			Text:      "❌ Партия не найдена. Обновите очередь: /queue",
			ParseMode: "HTML",
			IsError:   true,
		}, nil

	case errors.Is(err, shared.ErrForbidden):
		return &ReviewResponse{
			Text:      "🔐 Ревью доступно только модераторам с правом проверки этой темы.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	return h.genericError()
}

// handleDecisionError maps decision failures to user guidance.
// A decision race shows the next card of the same batch: the card the
// admin was looking at has been decided by someone, nothing is lost.
func (h *ReviewHandler) handleDecisionError(ctx context.Context, req ReviewRequest, err error) (*ReviewResponse, error) {
	if shared.IsDecisionConflict(err) {
		if ref, ok := h.recallCard(req.TelegramID); ok {
			return h.showCard(ctx, req, ref.BatchID, h.presenter.ConflictNotice(), "⚠️ Вопрос уже решён")
		}

		return &ReviewResponse{
			Text:      h.presenter.ConflictNotice() + "\n\nОткройте партию заново: /queue",
			ParseMode: "HTML",
			IsError:   true,
			Toast:     "⚠️ Вопрос уже решён",
		}, nil
	}

	return h.handleLeaseError(err)
}

// handleLeaseError maps lease failures to user guidance.
func (h *ReviewHandler) handleLeaseError(err error) (*ReviewResponse, error) {
	switch {
	case errors.Is(err, shared.ErrStaleLease), shared.IsNotOwner(err), shared.IsLockConflict(err):
		return &ReviewResponse{
			Text:      h.presenter.LockExpiredMessage(),
			ParseMode: "HTML",
			IsError:   true,
			Toast:     "⏰ Аренда истекла",
			ShowAlert: true,
		}, nil

	case errors.Is(err, shared.ErrTerminalState):
		return &ReviewResponse{
			Text:      "🏁 Эта партия уже завершена.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil

	case shared.IsNotFound(err):
		return &ReviewResponse{
			Text:      "❌ Партия не найдена. Обновите очередь: /queue",
			ParseMode: "HTML",
			IsError:   true,
		}, nil

	case errors.Is(err, shared.ErrForbidden):
		return &ReviewResponse{
			Text:      "🔐 Недостаточно прав для этого действия.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	return h.genericError()
}

// genericError is the fallback for unexpected failures.
func (h *ReviewHandler) genericError() (*ReviewResponse, error) {
	return &ReviewResponse{
		Text:      "❌ Что-то пошло не так. Попробуйте ещё раз через минуту.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// viewResponse converts a presenter view into a response.
func (h *ReviewHandler) viewResponse(view *presenter.ReviewCardView, toast string) *ReviewResponse {
	return &ReviewResponse{
		Text:      view.Text,
		Keyboard:  view.Keyboard,
		ParseMode: view.ParseMode,
		Toast:     toast,
	}
}

// rememberCard records the card the admin is looking at.
func (h *ReviewHandler) rememberCard(telegramID int64, candidateID, batchID string) {
	h.mu.Lock()
	h.openCards[telegramID] = openCard{CandidateID: candidateID, BatchID: batchID}
	h.mu.Unlock()
}

// recallCard returns the card the admin was looking at.
func (h *ReviewHandler) recallCard(telegramID int64) (openCard, bool) {
	h.mu.RLock()
	ref, ok := h.openCards[telegramID]
	h.mu.RUnlock()
	return ref, ok
}

// forgetCard drops the remembered card.
func (h *ReviewHandler) forgetCard(telegramID int64) {
	h.mu.Lock()
	delete(h.openCards, telegramID)
	h.mu.Unlock()
}
