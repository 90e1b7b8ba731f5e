package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

func quickRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *InMemoryEventBus) {
	t.Helper()
	bus := NewInMemoryEventBus(syncBusConfig())
	d := NewDispatcherBuilder(bus).
		WithRetryConfig(quickRetry()).
		WithDeadLetterQueue(10).
		WithLogger(testLogger()).
		Build()
	return d, bus
}

func TestDispatcher_DispatchRunsSyncHandlersByPriority(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var order []string
	require.NoError(t, d.RegisterHandler(shared.EventBatchCompleted, HandlerRegistration{
		Name:     "thank_uploader",
		Priority: 1,
		Handler:  func(shared.Event) error { order = append(order, "thank_uploader"); return nil },
	}))
	require.NoError(t, d.RegisterHandler(shared.EventBatchCompleted, HandlerRegistration{
		Name:     "invalidate_published_cache",
		Priority: 10,
		Handler:  func(shared.Event) error { order = append(order, "invalidate_published_cache"); return nil },
	}))

	require.NoError(t, d.Dispatch(shared.NewBatchCompletedEvent("batch-1", 100, 55, 8, 2)))

	assert.Equal(t, []string{"invalidate_published_cache", "thank_uploader"}, order)
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t)

	attempts := 0
	require.NoError(t, d.RegisterSync(shared.EventBatchIngested, "notify_batch_ingested",
		func(shared.Event) error {
			attempts++
			if attempts < 3 {
				return errors.New("telegram: 502")
			}
			return nil
		}))

	require.NoError(t, d.Dispatch(shared.NewBatchIngestedEvent("batch-1", 100, 12, 10, 2, 0, false)))

	assert.Equal(t, 3, attempts)
	snap := d.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalRetries)
	assert.EqualValues(t, 1, snap.TotalSucceeded)
	assert.Zero(t, snap.TotalFailed)
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcher_DeadLettersAfterRetryBudget(t *testing.T) {
	d, _ := newTestDispatcher(t)

	require.NoError(t, d.RegisterSync(shared.EventScorerDegraded, "alert_scorer_degraded",
		func(shared.Event) error { return errors.New("ops chat unreachable") }))

	event := shared.NewScorerDegradedEvent("cand-4", "batch-1", "circuit open")
	require.NoError(t, d.Dispatch(event))

	dlq := d.DeadLetterQueue()
	require.Equal(t, 1, dlq.Size())

	entry, ok := dlq.Pop()
	require.True(t, ok)
	assert.Equal(t, shared.EventScorerDegraded, entry.EventType)
	assert.Equal(t, "cand-4", entry.AggregateID)
	assert.Equal(t, "alert_scorer_degraded", entry.HandlerName)
	assert.Equal(t, 3, entry.Attempts)
	assert.Contains(t, entry.Error, "ops chat unreachable")

	snap := d.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.TotalFailed)
	assert.EqualValues(t, 2, snap.TotalRetries)
}

func TestDispatcher_RecoveryMiddlewareConvertsPanics(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Use(RecoveryMiddleware(testLogger()))

	require.NoError(t, d.RegisterSync(shared.EventBatchCompleted, "thank_uploader",
		func(shared.Event) error { panic("nil uploader profile") }))

	require.NoError(t, d.Dispatch(shared.NewBatchCompletedEvent("batch-1", 100, 55, 8, 2)))

	entry, ok := d.DeadLetterQueue().Pop()
	require.True(t, ok, "a panicking handler still ends in the DLQ, not a crash")
	assert.Contains(t, entry.Error, "handler panic")
}

func TestDispatcher_PerRegistrationTimeout(t *testing.T) {
	d, _ := newTestDispatcher(t)

	require.NoError(t, d.RegisterHandler(shared.EventBatchIngested, HandlerRegistration{
		Name:       "notify_batch_ingested",
		MaxRetries: 1,
		Timeout:    5 * time.Millisecond,
		Handler: func(shared.Event) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}))

	require.NoError(t, d.Dispatch(shared.NewBatchIngestedEvent("batch-1", 100, 12, 10, 2, 0, false)))

	entry, ok := d.DeadLetterQueue().Pop()
	require.True(t, ok)
	assert.Equal(t, 2, entry.Attempts)
	assert.Contains(t, entry.Error, "timed out")
}

func TestDispatcher_StartRoutesBusEvents(t *testing.T) {
	d, bus := newTestDispatcher(t)
	d.Use(LoggingMiddleware(testLogger()))

	handled := 0
	require.NoError(t, d.RegisterSync(shared.EventCandidateDecided, "invalidate_published_cache",
		func(e shared.Event) error {
			handled++
			assert.Equal(t, "cand-7", e.AggregateID())
			return nil
		}))

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "second Start must fail")

	require.NoError(t, bus.Publish(shared.NewCandidateDecidedEvent("cand-7", "batch-1", 55, "approved")))
	assert.Equal(t, 1, handled)
}

func TestDispatcher_AsyncRegistrationRunsOnPool(t *testing.T) {
	d, bus := newTestDispatcher(t)

	done := make(chan struct{})
	require.NoError(t, d.Register(shared.EventBatchCompleted, "thank_uploader",
		func(shared.Event) error {
			close(done)
			return nil
		}))

	require.NoError(t, d.Start())
	require.NoError(t, bus.Publish(shared.NewBatchCompletedEvent("batch-1", 100, 55, 8, 2)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler did not run")
	}
	require.NoError(t, d.Stop())
}

func TestDispatcher_StopPreventsFurtherDispatch(t *testing.T) {
	d, _ := newTestDispatcher(t)

	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())
	assert.NoError(t, d.Stop(), "second Stop is a no-op")

	assert.ErrorIs(t, d.Dispatch(shared.NewBatchCompletedEvent("batch-1", 100, 55, 8, 2)), ErrDispatcherStopped)
}

func TestDispatcher_RegistrationValidation(t *testing.T) {
	d, _ := newTestDispatcher(t)

	assert.Error(t, d.Register(shared.EventBatchCompleted, "", func(shared.Event) error { return nil }))
	assert.Error(t, d.Register(shared.EventBatchCompleted, "thank_uploader", nil))
	assert.ErrorIs(t, d.Dispatch(nil), ErrNilEvent)
}

func TestTimeoutMiddleware_CutsOffSlowHandlers(t *testing.T) {
	mw := TimeoutMiddleware(5 * time.Millisecond)
	slow := mw(func(shared.Event) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	err := slow(shared.NewBatchSubmittedEvent("batch-1", 100, 3, "pdf"))
	assert.ErrorIs(t, err, ErrHandlerTimeout)
}

func TestMetricsMiddleware_RecordsOutcomes(t *testing.T) {
	metrics := NewDispatcherMetrics()
	mw := MetricsMiddleware(metrics)

	event := shared.NewBatchSubmittedEvent("batch-1", 100, 3, "pdf")
	require.NoError(t, mw(func(shared.Event) error { return nil })(event))
	require.Error(t, mw(func(shared.Event) error { return errors.New("boom") })(event))

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.TotalSucceeded)
	assert.EqualValues(t, 1, snap.TotalFailed)
}

func TestDeadLetterQueue_EvictsOldestAtCapacity(t *testing.T) {
	q := NewDeadLetterQueue(2)

	q.Add(DeadLetterEntry{HandlerName: "first"})
	q.Add(DeadLetterEntry{HandlerName: "second"})
	q.Add(DeadLetterEntry{HandlerName: "third"})

	assert.Equal(t, 2, q.Size())
	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].HandlerName)
	assert.Equal(t, "third", entries[1].HandlerName)

	entry, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "second", entry.HandlerName)

	q.Clear()
	assert.Zero(t, q.Size())
	_, ok = q.Pop()
	assert.False(t, ok)
}
