package eventhandler

import (
	"context"
	"log/slog"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON INGEST REQUESTED HANDLER
// Запускает отложенную обработку черновика партии.
//
// В асинхронном режиме загрузка только фиксирует черновик и публикует
// batch.ingest_requested; распознавание, извлечение и модерация идут
// здесь, вне горячего пути Telegram-обработчика.
//
// Документ едет только в типизированном событии внутри принявшего
// загрузку процесса. Удалённые события (из Redis-шины других инстансов)
// не проходят type assertion и пропускаются: партию обрабатывает ровно
// тот инстанс, который принял загрузку, двойная обработка исключена.
// ═══════════════════════════════════════════════════════════════════════════

// IngestExecutor выполняет отложенную обработку партии.
type IngestExecutor interface {
	Handle(ctx context.Context, cmd command.IngestBatchCommand) (*command.IngestBatchResult, error)
}

// OnIngestRequestedHandler обрабатывает событие запроса обработки.
type OnIngestRequestedHandler struct {
	ingest IngestExecutor

	// Logger для структурированного логирования
	logger *slog.Logger
}

// NewOnIngestRequestedHandler создаёт новый обработчик запроса обработки.
func NewOnIngestRequestedHandler(ingest IngestExecutor, logger *slog.Logger) *OnIngestRequestedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnIngestRequestedHandler{
		ingest: ingest,
		logger: logger.With("handler", "on_ingest_requested"),
	}
}

// Handle обрабатывает событие запроса обработки.
// Реализует интерфейс shared.EventHandler.
func (h *OnIngestRequestedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	requested, ok := event.(shared.BatchIngestRequestedEvent)
	if !ok {
		// Удалённое или чужое событие: документа в нём нет, обрабатывать нечего.
		h.logger.Debug("skipping non-local ingest request",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
		)
		return nil
	}

	h.logger.Info("processing deferred ingest",
		"batch_id", requested.AggregateID(),
		"uploader_id", requested.UploaderID,
		"document_kind", requested.DocumentKind,
	)

	result, err := h.ingest.Handle(ctx, command.IngestBatchCommand{
		BatchID:  requested.AggregateID(),
		Kind:     requested.DocumentKind,
		Text:     requested.Text,
		Content:  requested.Content,
		Filename: requested.Filename,
	})
	if err != nil {
		h.logger.Error("deferred ingest failed",
			"batch_id", requested.AggregateID(),
			"error", err,
		)
		return err
	}

	if result.Skipped {
		h.logger.Info("deferred ingest skipped, batch no longer draft",
			"batch_id", requested.AggregateID(),
		)
		return nil
	}

	h.logger.Info("deferred ingest finished",
		"batch_id", requested.AggregateID(),
		"candidates", result.Total,
		"auto_rejected", result.AutoRejected,
		"failed", result.IngestFailed,
	)

	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnIngestRequestedHandler) EventType() shared.EventType {
	return shared.EventBatchIngestRequested
}
