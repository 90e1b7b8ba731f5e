package command

import (
	"log/slog"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// publishEvents emits domain events after a committed transaction.
// Publishing is best-effort: a failure must never undo the commit, but
// every dropped event is logged so missing notifications and stale
// caches can be traced back to the bus.
func publishEvents(publisher shared.EventPublisher, log *slog.Logger, op string, events []shared.Event) {
	if publisher == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	for _, event := range events {
		if err := publisher.Publish(event); err != nil {
			log.Warn("domain event dropped",
				"op", op,
				"event_type", string(event.EventType()),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
		}
	}
}
