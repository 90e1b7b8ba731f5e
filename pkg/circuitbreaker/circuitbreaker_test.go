package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend unavailable")

func fail(context.Context) error { return errBackend }

func succeed(context.Context) error { return nil }

func TestBreaker_PassesThroughWhenClosed(t *testing.T) {
	ctx := context.Background()
	cb := New("test")

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)

	assert.Equal(t, StateClosed, cb.State())
	counts := cb.Counts()
	assert.Equal(t, 2, counts.Requests)
	assert.Equal(t, 1, counts.TotalSuccesses)
	assert.Equal(t, 1, counts.TotalFailures)
}

func TestBreaker_OpensAfterFailureStreak(t *testing.T) {
	ctx := context.Background()
	cb := New("test", WithFailureThreshold(3))

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(ctx, fail))
	}
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "an open breaker must not run the function")
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	ctx := context.Background()
	cb := New("test", WithFailureThreshold(3))

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_ProbesAfterCooldown(t *testing.T) {
	ctx := context.Background()
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(30*time.Millisecond),
	)

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_ReopensOnFailedProbe(t *testing.T) {
	ctx := context.Background()
	cb := New("test", WithFailureThreshold(1), WithTimeout(30*time.Millisecond))

	_ = cb.Execute(ctx, fail)
	time.Sleep(60 * time.Millisecond)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

// Sequential probes must be able to reach SuccessThreshold even when only
// one probe may be in flight at a time.
func TestBreaker_ClosesAfterEnoughSequentialProbes(t *testing.T) {
	ctx := context.Background()
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithMaxHalfOpenRequests(1),
		WithTimeout(25*time.Millisecond),
	)

	_ = cb.Execute(ctx, fail)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, succeed))
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_LimitsInFlightProbes(t *testing.T) {
	ctx := context.Background()
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithMaxHalfOpenRequests(1),
		WithTimeout(25*time.Millisecond),
	)

	_ = cb.Execute(ctx, fail)
	time.Sleep(50 * time.Millisecond)

	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- cb.Execute(ctx, func(context.Context) error {
			<-release
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return cb.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-probeDone)
}

// A request admitted before a transition must not influence the state the
// breaker moved to while the request was in flight.
func TestBreaker_DiscardsStaleResults(t *testing.T) {
	ctx := context.Background()
	cb := New("test", WithFailureThreshold(1))

	started := make(chan struct{})
	release := make(chan struct{})
	staleDone := make(chan error, 1)
	go func() {
		staleDone <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	close(release)
	require.NoError(t, <-staleDone)

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 0, cb.Counts().TotalSuccesses)
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	ctx := context.Background()
	errQuota := errors.New("quota exceeded")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool {
			return !errors.Is(err, errQuota)
		}),
	)

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return errQuota })
		assert.ErrorIs(t, err, errQuota, "the error itself still reaches the caller")
	}
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_ReportsTransitions(t *testing.T) {
	ctx := context.Background()

	type change struct{ from, to State }
	var changes []change
	cb := New("payments",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithTimeout(20*time.Millisecond),
		WithOnStateChange(func(name string, from, to State) {
			assert.Equal(t, "payments", name)
			changes = append(changes, change{from, to})
		}),
	)

	_ = cb.Execute(ctx, fail)
	time.Sleep(40 * time.Millisecond)
	_ = cb.Execute(ctx, succeed)

	require.Len(t, changes, 3)
	assert.Equal(t, change{StateClosed, StateOpen}, changes[0])
	assert.Equal(t, change{StateOpen, StateHalfOpen}, changes[1])
	assert.Equal(t, change{StateHalfOpen, StateClosed}, changes[2])
}

func TestBreaker_Reset(t *testing.T) {
	ctx := context.Background()
	cb := New("test", WithFailureThreshold(1))

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
	require.NoError(t, cb.Execute(ctx, succeed))
}

func TestScorerBreaker_OverridesBeatBaseline(t *testing.T) {
	ctx := context.Background()

	// The baseline trips after three failures; the override raises it.
	cb := ScorerBreaker(WithFailureThreshold(5))
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}
