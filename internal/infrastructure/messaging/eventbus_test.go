package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:     false,
		EnableMetrics: true,
		Logger:        testLogger(),
	}
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	defer bus.Close()

	var typed, global, other int
	require.NoError(t, bus.Subscribe(shared.EventBatchSubmitted, func(e shared.Event) error {
		typed++
		assert.Equal(t, "batch-42", e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventBatchCompleted, func(shared.Event) error {
		other++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		global++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-42", 100, 3, "pdf")))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, global)
	assert.Zero(t, other, "handler for another event type must not fire")
}

func TestInMemoryEventBus_AsyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		Logger:         testLogger(),
	})
	defer bus.Close()

	received := make(chan shared.Event, 1)
	require.NoError(t, bus.Subscribe(shared.EventCandidateDecided, func(e shared.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewCandidateDecidedEvent("cand-7", "batch-42", 55, "approved")))

	select {
	case e := <-received:
		assert.Equal(t, "cand-7", e.AggregateID())
	case <-time.After(time.Second):
		t.Fatal("async handler did not run")
	}
}

func TestInMemoryEventBus_HandlerErrorsDoNotFailPublish(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		return errors.New("reviewer chat unreachable")
	}))

	// Side-effect failures stay inside the bus.
	assert.NoError(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-1", 100, 3, "pdf")))
}

func TestInMemoryEventBus_NilGuards(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	defer bus.Close()

	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
	assert.ErrorIs(t, bus.Subscribe(shared.EventBatchSubmitted, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.SubscribeAll(nil), ErrNilHandler)
}

func TestInMemoryEventBus_CloseWaitsForRunningHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 2,
		Logger:         testLogger(),
	})

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, bus.Subscribe(shared.EventBatchSubmitted, func(shared.Event) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-1", 100, 3, "pdf")))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, bus.Close())
	assert.True(t, finished.Load(), "Close must wait for the in-flight handler")
}

func TestInMemoryEventBus_CloseRejectsFurtherUse(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-1", 100, 3, "pdf")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventBatchSubmitted, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close(), "second Close is a no-op")
}

func TestInMemoryEventBus_MetricsSnapshot(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventBatchSubmitted, func(e shared.Event) error {
		if e.AggregateID() == "batch-bad" {
			return errors.New("no reviewer configured for unit")
		}
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-ok", 100, 3, "pdf")))
	require.NoError(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-bad", 100, 3, "pdf")))

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalPublished)
	assert.EqualValues(t, 2, snap.TotalHandlerExecs)
	assert.EqualValues(t, 1, snap.TotalFailures)
	assert.InDelta(t, 0.5, snap.HandlerSuccessRate, 0.001)
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis bus
// ─────────────────────────────────────────────────────────────────────────────

type fakeRedisClient struct {
	mu        sync.Mutex
	published []string
	incoming  chan RedisMessage
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{incoming: make(chan RedisMessage, 16)}
}

func (c *fakeRedisClient) Publish(_ context.Context, _ string, message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, fmt.Sprint(message))
	return nil
}

func (c *fakeRedisClient) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	return c.incoming, nil
}

func (c *fakeRedisClient) Close() error { return nil }

func (c *fakeRedisClient) lastPublished() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.published) == 0 {
		return ""
	}
	return c.published[len(c.published)-1]
}

func newTestRedisBus(t *testing.T, fake *fakeRedisClient, instanceID string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         fake,
		InstanceID:     instanceID,
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false, Logger: testLogger()},
		Logger:         testLogger(),
	})
	require.NoError(t, err)
	return bus
}

func TestRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}

func TestRedisEventBus_PublishesEnvelopeAndDeliversLocally(t *testing.T) {
	fake := newFakeRedisClient()
	bus := newTestRedisBus(t, fake, "bot-1")
	defer bus.Close()

	local := 0
	require.NoError(t, bus.Subscribe(shared.EventBatchSubmitted, func(shared.Event) error {
		local++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-42", 100, 3, "pdf")))
	assert.Equal(t, 1, local, "local handlers fire without a Redis round trip")

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(fake.lastPublished()), &env))
	assert.Equal(t, string(shared.EventBatchSubmitted), env["event_type"])
	assert.Equal(t, "batch-42", env["aggregate_id"])
	assert.Equal(t, "bot-1", env["instance_id"])
}

func TestRedisEventBus_ReplaysRemoteEnvelopes(t *testing.T) {
	fake := newFakeRedisClient()
	bus := newTestRedisBus(t, fake, "bot-1")
	defer bus.Close()

	received := make(chan shared.Event, 1)
	require.NoError(t, bus.Subscribe(shared.EventBatchCompleted, func(e shared.Event) error {
		received <- e
		return nil
	}))

	fake.incoming <- RedisMessage{
		Channel: "medquiz:events",
		Payload: `{"instance_id":"worker-1","event_type":"batch.completed","aggregate_id":"batch-9","occurred_at":"2026-08-01T08:00:00Z","payload":{"approved":4}}`,
	}

	select {
	case e := <-received:
		assert.Equal(t, shared.EventBatchCompleted, e.EventType())
		assert.Equal(t, "batch-9", e.AggregateID())
		assert.EqualValues(t, 4, e.Payload()["approved"])
	case <-time.After(time.Second):
		t.Fatal("remote envelope was not replayed")
	}
}

func TestRedisEventBus_SkipsOwnEnvelopes(t *testing.T) {
	fake := newFakeRedisClient()
	bus := newTestRedisBus(t, fake, "bot-1")
	defer bus.Close()

	got := make(chan string, 4)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got <- e.AggregateID()
		return nil
	}))

	// Envelopes arrive in channel order, so receiving the foreign one
	// proves the own one was dropped, not still queued.
	own := `{"instance_id":"bot-1","event_type":"batch.completed","aggregate_id":"own-1","occurred_at":"2026-08-01T08:00:00Z","payload":{}}`
	foreign := `{"instance_id":"worker-1","event_type":"batch.completed","aggregate_id":"remote-1","occurred_at":"2026-08-01T08:00:01Z","payload":{}}`
	fake.incoming <- RedisMessage{Channel: "medquiz:events", Payload: own}
	fake.incoming <- RedisMessage{Channel: "medquiz:events", Payload: foreign}

	select {
	case agg := <-got:
		assert.Equal(t, "remote-1", agg)
	case <-time.After(time.Second):
		t.Fatal("foreign envelope was not replayed")
	}
}

func TestRedisEventBus_CloseStopsTheBus(t *testing.T) {
	fake := newFakeRedisClient()
	bus := newTestRedisBus(t, fake, "bot-1")

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewBatchSubmittedEvent("batch-1", 100, 3, "pdf")), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}

// ─────────────────────────────────────────────────────────────────────────────
// Buffered bus
// ─────────────────────────────────────────────────────────────────────────────

func TestBufferedEventBus_FlushOnThreshold(t *testing.T) {
	inner := NewInMemoryEventBus(syncBusConfig())
	buf := NewBufferedEventBus(BufferedEventBusConfig{
		Inner:         inner,
		BufferSize:    3,
		FlushInterval: time.Minute,
		Logger:        testLogger(),
	})
	defer buf.Close()

	delivered := 0
	require.NoError(t, buf.SubscribeAll(func(shared.Event) error {
		delivered++
		return nil
	}))

	require.NoError(t, buf.Publish(shared.NewCandidateScoredEvent("cand-1", "batch-1", 80, "accept", false)))
	require.NoError(t, buf.Publish(shared.NewCandidateScoredEvent("cand-2", "batch-1", 55, "flag", false)))
	assert.Zero(t, delivered, "below the threshold nothing is forwarded")

	require.NoError(t, buf.Publish(shared.NewCandidateScoredEvent("cand-3", "batch-1", 91, "accept", false)))
	assert.Equal(t, 3, delivered, "the filling publish flushes the whole buffer")
}

func TestBufferedEventBus_ManualFlush(t *testing.T) {
	inner := NewInMemoryEventBus(syncBusConfig())
	buf := NewBufferedEventBus(BufferedEventBusConfig{
		Inner:         inner,
		BufferSize:    100,
		FlushInterval: time.Minute,
		Logger:        testLogger(),
	})
	defer buf.Close()

	delivered := 0
	require.NoError(t, buf.SubscribeAll(func(shared.Event) error {
		delivered++
		return nil
	}))

	require.NoError(t, buf.Publish(shared.NewCandidateScoredEvent("cand-1", "batch-1", 80, "accept", false)))
	assert.Zero(t, delivered)

	require.NoError(t, buf.Flush())
	assert.Equal(t, 1, delivered)
}

func TestBufferedEventBus_CloseFlushesRemainder(t *testing.T) {
	inner := NewInMemoryEventBus(syncBusConfig())
	buf := NewBufferedEventBus(BufferedEventBusConfig{
		Inner:         inner,
		BufferSize:    100,
		FlushInterval: time.Minute,
		Logger:        testLogger(),
	})

	delivered := 0
	require.NoError(t, buf.SubscribeAll(func(shared.Event) error {
		delivered++
		return nil
	}))

	require.NoError(t, buf.Publish(shared.NewCandidateScoredEvent("cand-1", "batch-1", 80, "accept", false)))
	require.NoError(t, buf.Publish(shared.NewCandidateScoredEvent("cand-2", "batch-1", 55, "flag", false)))

	require.NoError(t, buf.Close())
	assert.Equal(t, 2, delivered)

	assert.ErrorIs(t, buf.Publish(shared.NewCandidateScoredEvent("cand-3", "batch-1", 70, "accept", false)), ErrEventBusClosed)
}
