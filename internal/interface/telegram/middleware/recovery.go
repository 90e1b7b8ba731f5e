package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Catches panics in handlers and converts them to user-friendly error messages.
// The bot must stay responsive even if a handler crashes mid-review. A crash
// while holding a batch lock is safe: leases expire on their own and the next
// reviewer action reclaims them, so recovery only has to keep the process up
// and tell the user what happened.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace attaches the stack trace to panic reports.
	EnableStackTrace bool

	// OnPanic is called for each recovered panic. This is where alerts
	// to the ops chat are sent.
	OnPanic func(ctx context.Context, panicInfo *PanicInfo)

	// UserErrorMessage is the message sent to users when a panic occurs.
	UserErrorMessage string

	// MaxPanicsPerMinute caps how many panics get the full treatment
	// (logging, aggregation, OnPanic). Past the cap, handlers still
	// recover but the reporting is skipped to stop a crash storm from
	// amplifying itself.
	MaxPanicsPerMinute int

	// AggregateWindow is how long grouped panics are retained for the
	// status report. Zero disables aggregation.
	AggregateWindow time.Duration

	// MaxAggregatedItems caps the number of distinct panic groups kept.
	MaxAggregatedItems int

	// Logger receives panic reports. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace: true,
		UserErrorMessage: "😔 Что-то пошло не так.\n\n" +
			"Команда уже знает о проблеме. Последнее действие могло не " +
			"сохраниться — повторите его через пару минут.",
		MaxPanicsPerMinute: 100,
		AggregateWindow:    time.Hour,
		MaxAggregatedItems: 50,
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	// Error is the panic value converted to error.
	Error error

	// PanicValue is the raw panic value.
	PanicValue interface{}

	// StackTrace is the formatted stack trace.
	StackTrace string

	// TelegramID is the Telegram user ID (if available).
	TelegramID int64

	// Command is the command that was being processed (if available).
	Command string

	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

// RecoveryMiddleware recovers from panics and provides error handling.
type RecoveryMiddleware struct {
	config     RecoveryConfig
	logger     *slog.Logger
	budget     *panicBudget
	aggregator *panicAggregator
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &RecoveryMiddleware{
		config: config,
		logger: logger,
		budget: newPanicBudget(config.MaxPanicsPerMinute),
	}
	if config.AggregateWindow > 0 {
		m.aggregator = newPanicAggregator(config.AggregateWindow, config.MaxAggregatedItems)
	}
	return m
}

// RecoveryResult represents the result of handling a panic.
type RecoveryResult struct {
	// Recovered indicates if a panic was recovered.
	Recovered bool

	// PanicInfo contains panic details (if recovered).
	PanicInfo *PanicInfo

	// UserMessage is the message to show to the user.
	UserMessage string
}

// RecoverWithHandler executes a handler and recovers from any panics.
// This is the main entry point for the middleware. Errors returned by
// the handler are not intercepted; callers capture them through the
// closure. Only panics are this middleware's business.
func (m *RecoveryMiddleware) RecoverWithHandler(
	ctx context.Context,
	telegramID int64,
	command string,
	handler func() error,
) (result *RecoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = m.handlePanic(ctx, r, telegramID, command)
		}
	}()

	_ = handler()
	return &RecoveryResult{}
}

// AggregatedPanics returns the current panic groups for the status report.
// Returns nil when aggregation is disabled.
func (m *RecoveryMiddleware) AggregatedPanics() []*AggregatedPanic {
	if m.aggregator == nil {
		return nil
	}
	return m.aggregator.snapshot()
}

// handlePanic builds the report for a recovered panic.
func (m *RecoveryMiddleware) handlePanic(
	ctx context.Context,
	panicValue interface{},
	telegramID int64,
	command string,
) *RecoveryResult {
	if !m.budget.allow() {
		return &RecoveryResult{
			Recovered:   true,
			UserMessage: m.config.UserErrorMessage,
		}
	}

	info := &PanicInfo{
		Error:      toError(panicValue),
		PanicValue: panicValue,
		Timestamp:  time.Now(),
		TelegramID: telegramID,
		Command:    command,
	}

	if m.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}

	m.logger.Error("panic recovered",
		"panic", fmt.Sprintf("%v", panicValue),
		"command", command,
		"telegram_id", telegramID,
		"stack", info.StackTrace,
	)

	if m.aggregator != nil {
		m.aggregator.add(info)
	}

	if m.config.OnPanic != nil {
		m.config.OnPanic(ctx, info)
	}

	return &RecoveryResult{
		Recovered:   true,
		PanicInfo:   info,
		UserMessage: m.config.UserErrorMessage,
	}
}

// toError converts a panic value to an error.
func toError(panicValue interface{}) error {
	switch v := panicValue.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PANIC BUDGET
// Caps how many panics per minute get reported in full.
// ══════════════════════════════════════════════════════════════════════════════

type panicBudget struct {
	mu        sync.Mutex
	count     int
	maxPerMin int
	window    time.Time
}

func newPanicBudget(maxPerMin int) *panicBudget {
	return &panicBudget{
		maxPerMin: maxPerMin,
		window:    time.Now(),
	}
}

func (b *panicBudget) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.window) > time.Minute {
		b.count = 0
		b.window = now
	}

	if b.count >= b.maxPerMin {
		return false
	}

	b.count++
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// PANIC AGGREGATOR
// Groups similar panics so one broken parser on a popular document format
// shows up as a single line in /status, not hundreds.
// ══════════════════════════════════════════════════════════════════════════════

// panicAggregator groups and tracks similar panics. Expired groups are
// pruned on access; panics are rare enough that a janitor goroutine
// would outnumber the work.
type panicAggregator struct {
	mu       sync.Mutex
	groups   map[string]*AggregatedPanic
	maxAge   time.Duration
	maxItems int
}

// AggregatedPanic represents a group of similar panics.
type AggregatedPanic struct {
	// Key is the grouping key for this panic type.
	Key string

	// Count is the number of times this panic occurred.
	Count int

	// FirstSeen is when this panic was first observed.
	FirstSeen time.Time

	// LastSeen is when this panic was last observed.
	LastSeen time.Time

	// SampleError is a sample of the error message.
	SampleError string

	// SampleStack is a sample of the stack trace.
	SampleStack string

	// AffectedUsers is a set of affected user IDs.
	AffectedUsers map[int64]bool

	// AffectedCommands is a set of affected commands.
	AffectedCommands map[string]bool
}

func newPanicAggregator(maxAge time.Duration, maxItems int) *panicAggregator {
	return &panicAggregator{
		groups:   make(map[string]*AggregatedPanic),
		maxAge:   maxAge,
		maxItems: maxItems,
	}
}

// add records a panic into its group.
func (pa *panicAggregator) add(info *PanicInfo) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	pa.pruneLocked()

	key := panicGroupKey(info.Error.Error())

	group, ok := pa.groups[key]
	if !ok {
		group = &AggregatedPanic{
			Key:              key,
			FirstSeen:        info.Timestamp,
			SampleError:      info.Error.Error(),
			SampleStack:      info.StackTrace,
			AffectedUsers:    make(map[int64]bool),
			AffectedCommands: make(map[string]bool),
		}
		pa.groups[key] = group
	}

	group.Count++
	group.LastSeen = info.Timestamp

	if info.TelegramID != 0 {
		group.AffectedUsers[info.TelegramID] = true
	}
	if info.Command != "" {
		group.AffectedCommands[info.Command] = true
	}

	if len(pa.groups) > pa.maxItems {
		pa.evictOldestLocked()
	}
}

// snapshot returns copies of the current groups.
func (pa *panicAggregator) snapshot() []*AggregatedPanic {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	pa.pruneLocked()

	result := make([]*AggregatedPanic, 0, len(pa.groups))
	for _, group := range pa.groups {
		clone := &AggregatedPanic{
			Key:              group.Key,
			Count:            group.Count,
			FirstSeen:        group.FirstSeen,
			LastSeen:         group.LastSeen,
			SampleError:      group.SampleError,
			SampleStack:      group.SampleStack,
			AffectedUsers:    make(map[int64]bool, len(group.AffectedUsers)),
			AffectedCommands: make(map[string]bool, len(group.AffectedCommands)),
		}
		for k, v := range group.AffectedUsers {
			clone.AffectedUsers[k] = v
		}
		for k, v := range group.AffectedCommands {
			clone.AffectedCommands[k] = v
		}
		result = append(result, clone)
	}
	return result
}

func (pa *panicAggregator) pruneLocked() {
	threshold := time.Now().Add(-pa.maxAge)
	for key, group := range pa.groups {
		if group.LastSeen.Before(threshold) {
			delete(pa.groups, key)
		}
	}
}

func (pa *panicAggregator) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time

	for key, group := range pa.groups {
		if oldestKey == "" || group.LastSeen.Before(oldestTime) {
			oldestKey = key
			oldestTime = group.LastSeen
		}
	}

	if oldestKey != "" {
		delete(pa.groups, oldestKey)
	}
}

// panicGroupKey derives a grouping key from an error message.
// Dynamic values (IDs, offsets) make messages unique; truncation is a
// crude but effective way to group them.
func panicGroupKey(errMsg string) string {
	if len(errMsg) > 100 {
		return errMsg[:100]
	}
	return errMsg
}
