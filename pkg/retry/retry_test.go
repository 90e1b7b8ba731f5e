package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

// quick returns a policy with negligible delays so tests do not sleep.
func quick(opts ...Option) *Retrier {
	base := []Option{
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
		WithJitter(0),
	}
	return New(append(base, opts...)...)
}

func TestRetrier_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := quick().Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := quick().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_PermanentStopsImmediately(t *testing.T) {
	errBadRequest := errors.New("invalid request")
	calls := 0
	err := quick().Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errBadRequest)
	})

	assert.Equal(t, 1, calls)
	// The marker is stripped; the caller sees the original cause.
	assert.Equal(t, errBadRequest, err)
}

func TestRetrier_UnmarkedErrorStops(t *testing.T) {
	errPlain := errors.New("no such model")
	calls := 0
	err := quick().Do(context.Background(), func(context.Context) error {
		calls++
		return errPlain
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errPlain, err)
}

func TestRetrier_BudgetExhausted(t *testing.T) {
	calls := 0
	err := quick(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errFlaky)
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, errFlaky, err)
}

// Markers buried inside wrapped errors must still be honored and still be
// stripped from the result.
func TestRetrier_FindsNestedMarkers(t *testing.T) {
	errBadRequest := errors.New("invalid request")
	calls := 0
	err := quick().Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("assess candidate: %w", Permanent(errBadRequest))
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBadRequest)
	assert.False(t, IsPermanent(err))
}

func TestRetrier_RetryIfOverridesMarkers(t *testing.T) {
	calls := 0
	r := quick(
		WithMaxAttempts(3),
		WithRetryIf(func(err error) bool {
			return errors.Is(err, errFlaky)
		}),
	)
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky // no Retryable marker
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errFlaky)
}

func TestRetrier_OnRetryObservesBackoff(t *testing.T) {
	var delays []time.Duration
	r := New(
		WithMaxAttempts(3),
		WithInitialDelay(10*time.Millisecond),
		WithMaxDelay(time.Second),
		WithMultiplier(2),
		WithJitter(0),
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			assert.ErrorIs(t, err, errFlaky)
			delays = append(delays, delay)
		}),
	)

	_ = r.Do(context.Background(), func(context.Context) error {
		return Retryable(errFlaky)
	})

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestRetrier_DelayIsCapped(t *testing.T) {
	var delays []time.Duration
	r := New(
		WithMaxAttempts(4),
		WithInitialDelay(10*time.Millisecond),
		WithMaxDelay(25*time.Millisecond),
		WithMultiplier(10),
		WithJitter(0),
		WithOnRetry(func(_ int, _ error, delay time.Duration) {
			delays = append(delays, delay)
		}),
	)

	_ = r.Do(context.Background(), func(context.Context) error {
		return Retryable(errFlaky)
	})

	require.Len(t, delays, 3)
	assert.Equal(t, 10*time.Millisecond, delays[0])
	assert.Equal(t, 25*time.Millisecond, delays[1])
	assert.Equal(t, 25*time.Millisecond, delays[2])
}

func TestRetrier_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	r := New(WithMaxAttempts(10), WithInitialDelay(50*time.Millisecond), WithJitter(0))
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return Retryable(errFlaky)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errFlaky)
}

func TestOCRRetrier_OverridesBeatBaseline(t *testing.T) {
	calls := 0
	r := OCRRetrier(WithMaxAttempts(4), WithInitialDelay(time.Millisecond), WithJitter(0))
	_ = r.Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errFlaky)
	})

	assert.Equal(t, 4, calls)
}
