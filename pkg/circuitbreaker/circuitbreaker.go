// Package circuitbreaker guards calls to flaky collaborators (the AI
// scorer, the OCR backend) with the classic closed/open/half-open state
// machine. A tripped breaker fails fast instead of letting every caller
// ride out its timeout, which is what turns one slow dependency into a
// stuck pipeline.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's position in the closed/open/half-open cycle.
type State int

const (
	// StateClosed lets traffic through and counts failures.
	StateClosed State = iota
	// StateOpen rejects traffic until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits a limited number of probes to test recovery.
	StateHalfOpen
)

// String returns the lowercase state name used in logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker rejects all traffic.
	// The wrapped function was not called.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when all half-open probe slots are
	// taken. The wrapped function was not called.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one circuit breaker.
type Config struct {
	// Name identifies the breaker in logs and state-change callbacks.
	Name string

	// FailureThreshold is how many consecutive failures trip the breaker.
	FailureThreshold int

	// SuccessThreshold is how many successful probes close it again.
	SuccessThreshold int

	// Timeout is the open-state cool-down before probing starts.
	Timeout time.Duration

	// MaxHalfOpenRequests caps in-flight probes while half-open.
	MaxHalfOpenRequests int

	// OnStateChange, when set, runs after every transition. It is called
	// with internal state locked: keep it cheap and do not call back into
	// the breaker.
	OnStateChange func(name string, from, to State)

	// IsFailure classifies errors; when nil every non-nil error counts
	// against the breaker. Callers use it to exempt quota responses and
	// cancellations, which say nothing about the collaborator's health.
	IsFailure func(error) bool
}

// DefaultConfig returns a breaker that trips after five consecutive
// failures and, after a 30-second cool-down, probes with one request
// at a time until two of them succeed.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Option overrides one Config field. Zero and negative values are
// ignored, so options can be fed straight from optional configuration.
type Option func(*Config)

// WithFailureThreshold sets how many consecutive failures trip the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many successful probes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithTimeout sets the open-state cool-down.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithMaxHalfOpenRequests sets the in-flight probe cap.
func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

// WithOnStateChange sets the transition callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithIsFailure sets the error classifier.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		c.IsFailure = fn
	}
}

// Counts reports request outcomes. Totals accumulate for the breaker's
// lifetime; the consecutive counters reset on every state transition.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	config Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
	probes     int
}

// New creates a closed breaker from DefaultConfig plus the given options.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker admits the request and feeds the result
// back into the state machine. fn's error is returned as-is; ErrCircuitOpen
// and ErrTooManyRequests mean fn never ran.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.settle(gen, err)
	return err
}

// admit decides whether a request may proceed. It returns the generation
// the request belongs to, so a result arriving after a state transition
// can be recognized as stale.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return cb.generation, nil

	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.Timeout {
			return 0, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probes = 1
		return cb.generation, nil

	case StateHalfOpen:
		if cb.probes >= cb.config.MaxHalfOpenRequests {
			return 0, ErrTooManyRequests
		}
		cb.probes++
		return cb.generation, nil

	default:
		return 0, ErrCircuitOpen
	}
}

// settle records the outcome of an admitted request.
func (cb *CircuitBreaker) settle(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A result from before the last transition describes a breaker that
	// no longer exists; counting it would corrupt the probe arithmetic.
	if gen != cb.generation {
		return
	}

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	cb.counts.Requests++

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	if failed {
		cb.noteFailure()
	} else {
		cb.noteSuccess()
	}
}

func (cb *CircuitBreaker) noteSuccess() {
	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) noteFailure() {
	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe is enough evidence.
		cb.transition(StateOpen)
	}
}

// transition moves to a new state, starts a new generation and fires the
// callback. Must be called with the lock held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.generation++
	cb.probes = 0
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0

	if to == StateOpen {
		cb.openedAt = time.Now()
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker closed and clears all counts. In-flight
// requests from before the reset are discarded when they settle.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.generation++
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.probes = 0
}

// Per-service presets. Overrides from configuration are appended after
// the baseline, so the last option wins.

// ScorerBreaker protects assessment calls. An open scorer circuit is not
// an outage - moderation degrades to the heuristic - so it trips after a
// short failure streak and probes with one request at a time.
func ScorerBreaker(opts ...Option) *CircuitBreaker {
	base := []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithTimeout(60 * time.Second),
		WithMaxHalfOpenRequests(1),
	}
	return New("ai-scorer", append(base, opts...)...)
}

// OCRBreaker protects document recognition. OCR has no fallback and
// uploads fail visibly while the circuit is open, so the cool-down is
// longer to avoid flapping against a backend that is still restarting.
func OCRBreaker(opts ...Option) *CircuitBreaker {
	base := []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithTimeout(90 * time.Second),
		WithMaxHalfOpenRequests(1),
	}
	return New("ocr-service", append(base, opts...)...)
}
