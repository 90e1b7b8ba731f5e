// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CANDIDATE DECIDED HANDLER
// Сбрасывает кеш опубликованных вопросов темы после одобрения кандидата.
// Отклонения кеш не трогают: отклонённый кандидат в выдачу не попадал.
// ═══════════════════════════════════════════════════════════════════════════

// OnCandidateDecidedHandler обрабатывает событие решения по кандидату.
type OnCandidateDecidedHandler struct {
	candidateRepo  candidate.Repository
	publishedCache candidate.Cache

	logger *slog.Logger
}

// NewOnCandidateDecidedHandler создаёт новый обработчик решения по кандидату.
func NewOnCandidateDecidedHandler(
	candidateRepo candidate.Repository,
	publishedCache candidate.Cache,
	logger *slog.Logger,
) *OnCandidateDecidedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnCandidateDecidedHandler{
		candidateRepo:  candidateRepo,
		publishedCache: publishedCache,
		logger:         logger.With("handler", "on_candidate_decided"),
	}
}

// Handle обрабатывает событие решения по кандидату.
// Реализует интерфейс shared.EventHandler.
func (h *OnCandidateDecidedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	decided, ok := event.(shared.CandidateDecidedEvent)
	if !ok {
		h.logger.Warn("received non-CandidateDecidedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	h.logger.Debug("processing candidate decided event",
		"candidate_id", decided.AggregateID(),
		"batch_id", decided.BatchID,
		"state", decided.State,
	)

	if decided.State != string(candidate.StateApproved) {
		return nil
	}

	// Тема берётся из кандидата: в событии только партия
	c, err := h.candidateRepo.GetByID(ctx, shared.CandidateID(decided.AggregateID()))
	if err != nil {
		return fmt.Errorf("get candidate: %w", err)
	}

	if err := h.publishedCache.InvalidateTopic(ctx, c.TopicID); err != nil {
		return fmt.Errorf("invalidate topic cache: %w", err)
	}

	h.logger.Debug("published cache invalidated",
		"topic_id", c.TopicID,
		"candidate_id", decided.AggregateID(),
	)

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnCandidateDecidedHandler) EventType() shared.EventType {
	return shared.EventCandidateDecided
}
