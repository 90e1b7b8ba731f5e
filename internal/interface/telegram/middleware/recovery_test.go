package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecoveryConfig() RecoveryConfig {
	cfg := DefaultRecoveryConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestRecoveryMiddleware_CleanHandlerPassesThrough(t *testing.T) {
	m := NewRecoveryMiddleware(testRecoveryConfig())

	result := m.RecoverWithHandler(context.Background(), 55001, "queue", func() error {
		return nil
	})

	assert.False(t, result.Recovered)
	assert.Empty(t, result.UserMessage)
	assert.Nil(t, result.PanicInfo)
}

func TestRecoveryMiddleware_HandlerErrorIsNotAPanic(t *testing.T) {
	m := NewRecoveryMiddleware(testRecoveryConfig())

	result := m.RecoverWithHandler(context.Background(), 55001, "upload", func() error {
		return errors.New("scorer unavailable")
	})

	// Errors travel back through the closure; recovery only reports panics.
	assert.False(t, result.Recovered)
}

func TestRecoveryMiddleware_RecoversPanicWithReport(t *testing.T) {
	m := NewRecoveryMiddleware(testRecoveryConfig())

	result := m.RecoverWithHandler(context.Background(), 55002, "upload", func() error {
		panic("curriculum repository is nil")
	})

	require.True(t, result.Recovered)
	assert.Contains(t, result.UserMessage, "Что-то пошло не так")

	require.NotNil(t, result.PanicInfo)
	assert.Equal(t, "curriculum repository is nil", result.PanicInfo.Error.Error())
	assert.Equal(t, int64(55002), result.PanicInfo.TelegramID)
	assert.Equal(t, "upload", result.PanicInfo.Command)
	assert.NotEmpty(t, result.PanicInfo.StackTrace)
	assert.WithinDuration(t, time.Now(), result.PanicInfo.Timestamp, time.Minute)
}

func TestRecoveryMiddleware_GroupsRepeatPanics(t *testing.T) {
	m := NewRecoveryMiddleware(testRecoveryConfig())

	boom := func() error { panic(errors.New("pdf extractor: page table is corrupt")) }

	m.RecoverWithHandler(context.Background(), 55003, "upload", boom)
	m.RecoverWithHandler(context.Background(), 55004, "text", boom)

	groups := m.AggregatedPanics()
	require.Len(t, groups, 1)

	group := groups[0]
	assert.Equal(t, 2, group.Count)
	assert.Equal(t, "pdf extractor: page table is corrupt", group.SampleError)
	assert.Len(t, group.AffectedUsers, 2)
	assert.Len(t, group.AffectedCommands, 2)
	assert.False(t, group.LastSeen.Before(group.FirstSeen))
}

func TestRecoveryMiddleware_OnPanicHook(t *testing.T) {
	var captured *PanicInfo

	cfg := testRecoveryConfig()
	cfg.OnPanic = func(ctx context.Context, info *PanicInfo) {
		captured = info
	}

	m := NewRecoveryMiddleware(cfg)
	m.RecoverWithHandler(context.Background(), 55005, "review", func() error {
		panic("verdict applied to a released batch")
	})

	require.NotNil(t, captured)
	assert.Equal(t, "review", captured.Command)
}

func TestRecoveryMiddleware_BudgetSkipsReporting(t *testing.T) {
	hookCalls := 0

	cfg := testRecoveryConfig()
	cfg.MaxPanicsPerMinute = 1
	cfg.OnPanic = func(ctx context.Context, info *PanicInfo) {
		hookCalls++
	}

	m := NewRecoveryMiddleware(cfg)

	first := m.RecoverWithHandler(context.Background(), 55006, "queue", func() error {
		panic("projection out of sync")
	})
	second := m.RecoverWithHandler(context.Background(), 55006, "queue", func() error {
		panic("projection out of sync")
	})

	// Both panics recover and both users get an apology, but only the
	// first gets logging, aggregation, and the ops hook.
	require.True(t, first.Recovered)
	require.True(t, second.Recovered)
	assert.NotEmpty(t, second.UserMessage)
	assert.Nil(t, second.PanicInfo)

	assert.Equal(t, 1, hookCalls)

	groups := m.AggregatedPanics()
	require.Len(t, groups, 1)
	assert.Equal(t, 1, groups[0].Count)
}

func TestRecoveryMiddleware_AggregationDisabled(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.AggregateWindow = 0

	m := NewRecoveryMiddleware(cfg)
	m.RecoverWithHandler(context.Background(), 55007, "audit", func() error {
		panic("audit page underflow")
	})

	assert.Nil(t, m.AggregatedPanics())
}
