package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

var (
	// ErrHandlerTimeout is returned when a handler exceeds its time budget.
	ErrHandlerTimeout = errors.New("handler execution timed out")

	// ErrDispatcherStopped is returned when dispatching after Stop.
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher routes events from the bus to named handler registrations
// with retry, timeout and dead-lettering. The bot registers its
// notification fanout and cache invalidation here; Start attaches the
// dispatcher to the bus via SubscribeAll.
type Dispatcher struct {
	bus         shared.EventBus
	mu          sync.RWMutex
	handlers    map[shared.EventType][]HandlerRegistration
	middlewares []Middleware
	retry       RetryConfig
	sem         chan struct{}
	deadLetters *DeadLetterQueue
	metrics     *DispatcherMetrics
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// HandlerRegistration describes one named handler for an event type.
type HandlerRegistration struct {
	// Name identifies the registration in logs and the DLQ.
	Name string

	// Handler is the function to invoke.
	Handler shared.EventHandler

	// Priority orders handlers for the same event type, highest first.
	Priority int

	// Async runs the handler on the worker pool instead of inline.
	Async bool

	// MaxRetries overrides the dispatcher retry budget when positive.
	MaxRetries int

	// Timeout bounds one execution attempt, 30s when zero.
	Timeout time.Duration
}

// RetryConfig controls the retry loop for failing handlers.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Multiplier scales the backoff between attempts.
	Multiplier float64
}

// DefaultRetryConfig returns the standard retry budget. Notification
// sends fail transiently against the Telegram API; three spaced
// attempts absorb almost all of that.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// DispatcherConfig contains configuration for Dispatcher.
type DispatcherConfig struct {
	// WorkerPoolSize bounds concurrent async handler runs.
	WorkerPoolSize int

	// RetryConfig is the default retry budget for all registrations.
	RetryConfig RetryConfig

	// EnableDeadLetterQueue keeps events whose handlers exhausted retries.
	EnableDeadLetterQueue bool

	// DeadLetterQueueSize caps the DLQ, oldest entries evicted first.
	DeadLetterQueueSize int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerPoolSize:        10,
		RetryConfig:           DefaultRetryConfig(),
		EnableDeadLetterQueue: true,
		DeadLetterQueueSize:   1000,
	}
}

// NewDispatcher creates a dispatcher bound to an event bus.
func NewDispatcher(bus shared.EventBus, config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultDispatcherConfig().WorkerPoolSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		bus:      bus,
		handlers: make(map[shared.EventType][]HandlerRegistration),
		retry:    config.RetryConfig,
		sem:      make(chan struct{}, config.WorkerPoolSize),
		metrics:  NewDispatcherMetrics(),
		logger:   config.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if config.EnableDeadLetterQueue {
		d.deadLetters = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// RegisterHandler attaches a registration to an event type. Handlers
// for the same type run in priority order, highest first.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Name == "" {
		return errors.New("handler name is required")
	}
	if reg.Handler == nil {
		return ErrNilHandler
	}
	if reg.Timeout <= 0 {
		reg.Timeout = 30 * time.Second
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	regs := append(d.handlers[eventType], reg)
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].Priority > regs[j].Priority
	})
	d.handlers[eventType] = regs

	d.logger.Debug("registered event handler",
		"event_type", eventType, "handler", reg.Name, "async", reg.Async)
	return nil
}

// Register attaches an async handler with default retry and timeout.
// This is what the binaries use for almost everything.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{
		Name:    name,
		Handler: handler,
		Async:   true,
	})
}

// RegisterSync attaches a handler that completes before Dispatch returns.
func (d *Dispatcher) RegisterSync(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{
		Name:    name,
		Handler: handler,
	})
}

// Use appends a middleware. Middlewares wrap every handler, first
// added is outermost.
func (d *Dispatcher) Use(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
}

// Start subscribes the dispatcher to the bus. Registrations may still
// be added afterwards, they take effect on the next event.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	if err := d.bus.SubscribeAll(d.Dispatch); err != nil {
		return fmt.Errorf("subscribe dispatcher: %w", err)
	}

	d.logger.Info("event dispatcher started")
	return nil
}

// Stop cancels in-flight retries and waits for running handlers.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	d.logger.Info("event dispatcher stopped")
	return nil
}

// Dispatch routes one event to its registrations. Sync registrations
// complete before Dispatch returns; async ones are handed to the
// worker pool and tracked until Stop. Handler failures never surface
// here, they end in the dead letter queue after the retry budget.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	select {
	case <-d.ctx.Done():
		return ErrDispatcherStopped
	default:
	}

	d.mu.RLock()
	regs := make([]HandlerRegistration, len(d.handlers[event.EventType()]))
	copy(regs, d.handlers[event.EventType()])
	chain := d.middlewares
	d.mu.RUnlock()

	if len(regs) == 0 {
		d.logger.Debug("no registrations for event", "event_type", event.EventType())
		return nil
	}

	d.metrics.recordDispatch(event.EventType())

	for _, reg := range regs {
		if reg.Async {
			d.wg.Add(1)
			go func(reg HandlerRegistration) {
				defer d.wg.Done()

				select {
				case d.sem <- struct{}{}:
					defer func() { <-d.sem }()
				case <-d.ctx.Done():
					return
				}
				d.runRegistration(reg, chain, event)
			}(reg)
		} else {
			d.runRegistration(reg, chain, event)
		}
	}
	return nil
}

// runRegistration executes one registration with its middleware chain,
// retrying on failure and dead-lettering when the budget is exhausted.
func (d *Dispatcher) runRegistration(reg HandlerRegistration, chain []Middleware, event shared.Event) {
	handler := reg.Handler
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}

	retries := reg.MaxRetries
	if retries <= 0 {
		retries = d.retry.MaxRetries
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if !d.sleep(d.backoffFor(attempt - 1)) {
				return
			}
			d.metrics.recordRetry()
		}

		start := time.Now()
		err = d.runWithTimeout(handler, event, reg.Timeout)
		if err == nil {
			d.metrics.recordSuccess(time.Since(start))
			return
		}

		d.logger.Warn("event handler failed",
			"handler", reg.Name,
			"event_type", event.EventType(),
			"attempt", attempt+1,
			"error", err)
	}

	d.metrics.recordFailure()
	if d.deadLetters != nil {
		d.deadLetters.Add(DeadLetterEntry{
			EventType:   event.EventType(),
			AggregateID: event.AggregateID(),
			HandlerName: reg.Name,
			Error:       err.Error(),
			Attempts:    retries + 1,
			FailedAt:    time.Now().UTC(),
			Payload:     event.Payload(),
		})
	}
	d.logger.Error("event handler exhausted retries",
		"handler", reg.Name,
		"event_type", event.EventType(),
		"attempts", retries+1,
		"error", err)
}

// runWithTimeout bounds one handler attempt. The handler goroutine is
// abandoned on timeout; handlers are expected to honor their own
// deadlines internally.
func (d *Dispatcher) runWithTimeout(handler shared.EventHandler, event shared.Event, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		result <- handler(event)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrHandlerTimeout
	case <-d.ctx.Done():
		return ErrDispatcherStopped
	}
}

// backoffFor returns the delay before retry number attempt, zero-based.
func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	backoff := float64(d.retry.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= d.retry.Multiplier
	}
	if limit := float64(d.retry.MaxBackoff); backoff > limit {
		backoff = limit
	}
	return time.Duration(backoff)
}

// sleep waits for the duration unless the dispatcher stops first.
func (d *Dispatcher) sleep(duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// DeadLetterQueue returns the DLQ, nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetters
}

// Metrics returns the dispatch counters.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(next shared.EventHandler) shared.EventHandler

// RecoveryMiddleware converts handler panics into errors so one broken
// handler cannot take down the worker pool.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic in event handler",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()))
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs every handler execution with its duration.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			if err != nil {
				logger.Error("event handled with error",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", time.Since(start),
					"error", err)
			} else {
				logger.Debug("event handled",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", time.Since(start))
			}
			return err
		}
	}
}

// MetricsMiddleware records per-execution outcomes.
func MetricsMiddleware(metrics *DispatcherMetrics) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			if err != nil {
				metrics.recordFailure()
			} else {
				metrics.recordSuccess(time.Since(start))
			}
			return err
		}
	}
}

// TimeoutMiddleware bounds handler execution independently of the
// per-registration timeout.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			result := make(chan error, 1)
			go func() {
				result <- next(event)
			}()

			timer := time.NewTimer(timeout)
			defer timer.Stop()

			select {
			case err := <-result:
				return err
			case <-timer.C:
				return ErrHandlerTimeout
			}
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is one event a handler permanently failed to process.
type DeadLetterEntry struct {
	EventType   shared.EventType
	AggregateID string
	HandlerName string
	Error       string
	Attempts    int
	FailedAt    time.Time
	Payload     map[string]interface{}
}

// DeadLetterQueue keeps permanently failed events for inspection.
// Bounded; when full the oldest entry is dropped.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a DLQ with the given capacity.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry, evicting the oldest when at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Size returns the number of stored entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Clear removes all entries.
func (q *DeadLetterQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics counts dispatches and handler outcomes.
type DispatcherMetrics struct {
	mu         sync.Mutex
	dispatched map[shared.EventType]int64
	succeeded  int64
	failed     int64
	retried    int64
	busy       time.Duration
}

// NewDispatcherMetrics creates a zeroed counter set.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{dispatched: make(map[shared.EventType]int64)}
}

func (m *DispatcherMetrics) recordDispatch(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched[eventType]++
}

func (m *DispatcherMetrics) recordSuccess(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded++
	m.busy += duration
}

func (m *DispatcherMetrics) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *DispatcherMetrics) recordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

// Snapshot returns a consistent copy of the counters.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[shared.EventType]int64, len(m.dispatched))
	var total int64
	for t, n := range m.dispatched {
		byType[t] = n
		total += n
	}

	snap := DispatcherMetricsSnapshot{
		TotalDispatched: total,
		TotalSucceeded:  m.succeeded,
		TotalFailed:     m.failed,
		TotalRetries:    m.retried,
		ByEventType:     byType,
	}
	if m.succeeded > 0 {
		snap.AverageHandlerDuration = m.busy / time.Duration(m.succeeded)
	}
	return snap
}

// DispatcherMetricsSnapshot is a point-in-time view of the counters.
type DispatcherMetricsSnapshot struct {
	TotalDispatched        int64
	TotalSucceeded         int64
	TotalFailed            int64
	TotalRetries           int64
	AverageHandlerDuration time.Duration
	ByEventType            map[shared.EventType]int64
}

// ══════════════════════════════════════════════════════════════════════════════
// BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherBuilder assembles a dispatcher with a fluent API.
type DispatcherBuilder struct {
	bus    shared.EventBus
	config DispatcherConfig
}

// NewDispatcherBuilder starts a builder with default configuration.
func NewDispatcherBuilder(bus shared.EventBus) *DispatcherBuilder {
	return &DispatcherBuilder{
		bus:    bus,
		config: DefaultDispatcherConfig(),
	}
}

// WithWorkerPoolSize sets the async worker pool size.
func (b *DispatcherBuilder) WithWorkerPoolSize(size int) *DispatcherBuilder {
	b.config.WorkerPoolSize = size
	return b
}

// WithRetryConfig sets the default retry budget.
func (b *DispatcherBuilder) WithRetryConfig(config RetryConfig) *DispatcherBuilder {
	b.config.RetryConfig = config
	return b
}

// WithDeadLetterQueue enables the DLQ with the given capacity.
func (b *DispatcherBuilder) WithDeadLetterQueue(size int) *DispatcherBuilder {
	b.config.EnableDeadLetterQueue = true
	b.config.DeadLetterQueueSize = size
	return b
}

// WithLogger sets the logger.
func (b *DispatcherBuilder) WithLogger(logger *slog.Logger) *DispatcherBuilder {
	b.config.Logger = logger
	return b
}

// Build creates the dispatcher.
func (b *DispatcherBuilder) Build() *Dispatcher {
	return NewDispatcher(b.bus, b.config)
}
