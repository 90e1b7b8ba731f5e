// Package messaging carries the pipeline's domain events between
// components: batch submissions, lease changes, candidate decisions and
// scorer degradation notices. The buses here implement shared.EventBus;
// handlers attach through the Dispatcher.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned for operations on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrNilHandler is returned when a nil handler is subscribed.
	ErrNilHandler = errors.New("handler cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus delivers events inside a single process. The bot runs
// as one instance, so this is the production bus; it is also what tests
// use. Handler failures are logged and never propagate to the publisher:
// a side effect must not fail the command that produced it.
type InMemoryEventBus struct {
	mu      sync.RWMutex
	byType  map[shared.EventType][]shared.EventHandler
	global  []shared.EventHandler
	async   bool
	sem     chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *EventBusMetrics
	closed  bool
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on the worker pool instead of inline.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent handler executions in async mode.
	WorkerPoolSize int

	// Logger for structured logging.
	Logger *slog.Logger

	// EnableMetrics turns on execution counters.
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		EnableMetrics:  true,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultInMemoryEventBusConfig().WorkerPoolSize
	}

	bus := &InMemoryEventBus{
		byType: make(map[shared.EventType][]shared.EventHandler),
		async:  config.AsyncMode,
		sem:    make(chan struct{}, config.WorkerPoolSize),
		done:   make(chan struct{}),
		logger: config.Logger,
	}
	if config.EnableMetrics {
		bus.metrics = NewEventBusMetrics()
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}

	b.byType[eventType] = append(b.byType[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// SubscribeAll registers a handler that receives every event. The
// dispatcher attaches this way and fans out to named registrations.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}

	b.global = append(b.global, handler)
	b.logger.Debug("subscribed global handler")
	return nil
}

// Publish delivers the event to type-specific and global handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	handlers := make([]shared.EventHandler, 0, len(typed)+len(b.global))
	handlers = append(handlers, typed...)
	handlers = append(handlers, b.global...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	for _, h := range handlers {
		if b.async {
			b.spawn(event, h)
		} else {
			if err := b.run(event, h); err != nil {
				b.logger.Error("handler error", "event_type", event.EventType(), "error", err)
			}
		}
	}
	return nil
}

// spawn runs the handler on the worker pool. Spawned work is abandoned
// when the bus closes before a slot frees up.
func (b *InMemoryEventBus) spawn(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		select {
		case b.sem <- struct{}{}:
			defer func() { <-b.sem }()
		case <-b.done:
			return
		}

		if err := b.run(event, handler); err != nil {
			b.logger.Error("async handler error", "event_type", event.EventType(), "error", err)
		}
	}()
}

// run executes one handler and records its outcome.
func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) error {
	start := time.Now()
	err := handler(event)
	if b.metrics != nil {
		b.metrics.RecordHandlerExecution(event.EventType(), time.Since(start), err == nil)
	}
	return err
}

// Close stops accepting events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Metrics returns the execution counters, nil if disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// Для развёртывания бота и воркера отдельными процессами: решение,
// принятое в одном, должно дойти до обработчиков другого.
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the slice of Redis the bus needs. Narrowing it here
// keeps the bus testable without a running Redis.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBus bridges an in-memory bus over Redis Pub/Sub. Local
// handlers fire immediately; remote instances receive the serialized
// envelope and replay it through their own local bus.
type RedisEventBus struct {
	client     RedisClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	// Client is the Redis connection, required.
	Client RedisClient

	// ChannelName is the Pub/Sub channel, "medquiz:events" by default.
	ChannelName string

	// InstanceID distinguishes this process so its own publishes are
	// not replayed back. Generated when empty.
	InstanceID string

	// LocalBusConfig configures the embedded in-memory bus.
	LocalBusConfig InMemoryEventBusConfig

	// Logger for structured logging.
	Logger *slog.Logger
}

// NewRedisEventBus creates a Redis-backed event bus and starts the
// subscription listener.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = "medquiz:events"
	}
	if config.InstanceID == "" {
		config.InstanceID = newInstanceID()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.ChannelName,
		instanceID: config.InstanceID,
		logger:     config.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	messages, err := bus.client.Subscribe(bus.ctx, bus.channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", bus.channel, err)
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		bus.listen(messages)
	}()

	return bus, nil
}

// Subscribe registers a handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish fans the event out to Redis and to local handlers. A Redis
// failure degrades to local-only delivery rather than failing the
// publish: the instance that produced the event can always act on it.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	b.mu.RUnlock()

	data, err := json.Marshal(eventEnvelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.logger.Error("failed to publish to redis", "error", err)
	}

	return b.local.Publish(event)
}

// listen replays remote envelopes through the local bus.
func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("redis subscription error", "error", msg.Err)
				continue
			}
			b.replay(msg.Payload)
		}
	}
}

// replay turns a serialized envelope back into an event, skipping
// envelopes this instance published itself.
func (b *RedisEventBus) replay(payload string) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error("failed to unmarshal event envelope", "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}

	err := b.local.Publish(&remoteEvent{
		eventType:   env.EventType,
		aggregateID: env.AggregateID,
		occurredAt:  env.OccurredAt,
		payload:     env.Payload,
	})
	if err != nil {
		b.logger.Error("failed to process remote event", "error", err)
	}
}

// Close stops the listener and shuts down the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if err := b.local.Close(); err != nil {
		b.logger.Error("failed to close local bus", "error", err)
	}
	b.logger.Info("redis event bus closed")
	return nil
}

// Metrics returns the embedded local bus counters.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.local.Metrics()
}

// eventEnvelope is the Pub/Sub wire format.
type eventEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// remoteEvent reconstructs a shared.Event from an envelope.
type remoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

func (e *remoteEvent) EventType() shared.EventType     { return e.eventType }
func (e *remoteEvent) AggregateID() string             { return e.aggregateID }
func (e *remoteEvent) OccurredAt() time.Time           { return e.occurredAt }
func (e *remoteEvent) Payload() map[string]interface{} { return e.payload }

// newInstanceID builds a process-unique identifier for self-filtering.
func newInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// ══════════════════════════════════════════════════════════════════════════════
// BUFFERED EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// BufferedEventBus accumulates events and forwards them in batches.
// Ingest publishes one scored event per candidate, so a fifty-question
// PDF produces a burst; buffering amortizes the per-event cost when the
// inner bus goes over the network.
type BufferedEventBus struct {
	inner   shared.EventBus
	mu      sync.Mutex
	pending []shared.Event
	limit   int
	logger  *slog.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// BufferedEventBusConfig contains configuration for BufferedEventBus.
type BufferedEventBusConfig struct {
	// Inner is the bus that receives flushed events.
	Inner shared.EventBus

	// BufferSize triggers a flush when reached.
	BufferSize int

	// FlushInterval forces a flush regardless of fill level.
	FlushInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// NewBufferedEventBus creates a buffering wrapper around an event bus.
func NewBufferedEventBus(config BufferedEventBusConfig) *BufferedEventBus {
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	bus := &BufferedEventBus{
		inner:   config.Inner,
		pending: make([]shared.Event, 0, config.BufferSize),
		limit:   config.BufferSize,
		logger:  config.Logger,
		done:    make(chan struct{}),
	}

	bus.wg.Add(1)
	go bus.flushLoop(config.FlushInterval)

	return bus
}

// Subscribe delegates to the inner bus.
func (b *BufferedEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.inner.Subscribe(eventType, handler)
}

// SubscribeAll delegates to the inner bus.
func (b *BufferedEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.inner.SubscribeAll(handler)
}

// Publish queues the event, flushing when the buffer fills.
func (b *BufferedEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}

	b.pending = append(b.pending, event)
	if len(b.pending) >= b.limit {
		return b.flushLocked()
	}
	return nil
}

// Flush forwards all queued events immediately.
func (b *BufferedEventBus) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

// flushLocked drains the buffer into the inner bus. Caller holds b.mu.
func (b *BufferedEventBus) flushLocked() error {
	if len(b.pending) == 0 {
		return nil
	}

	batch := b.pending
	b.pending = make([]shared.Event, 0, b.limit)

	var lastErr error
	for _, event := range batch {
		if err := b.inner.Publish(event); err != nil {
			b.logger.Error("failed to publish buffered event",
				"event_type", event.EventType(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// flushLoop flushes on a timer until the bus closes.
func (b *BufferedEventBus) flushLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			if err := b.flushLocked(); err != nil {
				b.logger.Error("periodic flush failed", "error", err)
			}
			b.mu.Unlock()
		}
	}
}

// Close flushes the remaining events and stops the timer loop.
func (b *BufferedEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	err := b.flushLocked()
	b.mu.Unlock()

	b.wg.Wait()
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts publishes and handler executions.
type EventBusMetrics struct {
	mu         sync.Mutex
	published  map[shared.EventType]int64
	executions int64
	failures   int64
	busy       time.Duration
	since      time.Time
}

// NewEventBusMetrics creates a zeroed counter set.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		published: make(map[shared.EventType]int64),
		since:     time.Now(),
	}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[eventType]++
}

// RecordHandlerExecution counts one handler run and its duration.
func (m *EventBusMetrics) RecordHandlerExecution(eventType shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions++
	m.busy += duration
	if !success {
		m.failures++
	}
}

// Snapshot returns a consistent copy of the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var published int64
	for _, n := range m.published {
		published += n
	}

	snap := EventBusMetricsSnapshot{
		TotalPublished:    published,
		TotalHandlerExecs: m.executions,
		TotalFailures:     m.failures,
		Since:             m.since,
	}
	if m.executions > 0 {
		snap.AverageHandlerDuration = m.busy / time.Duration(m.executions)
		snap.HandlerSuccessRate = float64(m.executions-m.failures) / float64(m.executions)
	} else {
		snap.HandlerSuccessRate = 1.0
	}
	return snap
}

// EventBusMetricsSnapshot is a point-in-time view of the counters.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64
	TotalHandlerExecs      int64
	TotalFailures          int64
	HandlerSuccessRate     float64
	AverageHandlerDuration time.Duration
	Since                  time.Time
}
