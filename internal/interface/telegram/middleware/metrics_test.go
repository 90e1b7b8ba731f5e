package middleware

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddleware_CountsCommandOutcomes(t *testing.T) {
	m := NewMetricsMiddleware(DefaultMetricsConfig())

	m.Start("queue", 9001).End(nil)
	m.Start("queue", 9002).End(errors.New("supabase: connection reset"))
	m.Start("upload", 9001).End(nil)

	snap := m.Snapshot()

	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.TotalErrors)
	assert.Equal(t, int64(0), snap.ActiveRequests)
	assert.InDelta(t, 1.0/3.0, snap.ErrorRate, 0.001)

	require.Contains(t, snap.Commands, "queue")
	queue := snap.Commands["queue"]
	assert.Equal(t, int64(2), queue.TotalCount)
	assert.Equal(t, int64(1), queue.SuccessCount)
	assert.Equal(t, int64(1), queue.ErrorCount)
	assert.Equal(t, 2, queue.UniqueAdmins)
	assert.InDelta(t, 0.5, queue.ErrorRate, 0.001)
	assert.False(t, queue.LastInvoked.IsZero())

	require.Contains(t, snap.Commands, "upload")
	assert.Equal(t, int64(1), snap.Commands["upload"].TotalCount)

	assert.Equal(t, 2, snap.ActiveAdminsLastHour)
	assert.Equal(t, 2, snap.ActiveAdminsLastDay)

	require.NotEmpty(t, snap.TopErrors)
	assert.Equal(t, "supabase: connection reset", snap.TopErrors[0].Error)
	assert.Equal(t, int64(1), snap.TopErrors[0].Count)
}

func TestMetricsMiddleware_ActiveRequestsGauge(t *testing.T) {
	m := NewMetricsMiddleware(DefaultMetricsConfig())

	rc := m.Start("review", 9003)
	assert.Equal(t, int64(1), m.Snapshot().ActiveRequests)

	rc.End(nil)
	assert.Equal(t, int64(0), m.Snapshot().ActiveRequests)
}

func TestMetricsMiddleware_LatencyFromBackdatedStart(t *testing.T) {
	m := NewMetricsMiddleware(DefaultMetricsConfig())

	slow := m.Start("upload", 9004)
	slow.StartTime = time.Now().Add(-80 * time.Millisecond)
	slow.End(nil)

	fast := m.Start("upload", 9004)
	fast.StartTime = time.Now().Add(-20 * time.Millisecond)
	fast.End(nil)

	snap := m.Snapshot()

	assert.GreaterOrEqual(t, snap.LatencyMax, 80*time.Millisecond)
	assert.Greater(t, snap.LatencyP50, time.Duration(0))
	assert.Greater(t, snap.LatencyAvg, 20*time.Millisecond)

	upload := snap.Commands["upload"]
	require.NotNil(t, upload)
	assert.GreaterOrEqual(t, upload.MaxDuration, 80*time.Millisecond)
	assert.GreaterOrEqual(t, upload.MinDuration, 20*time.Millisecond)
	assert.Less(t, upload.MinDuration, 80*time.Millisecond)
}

func TestMetricsMiddleware_SlowRequestHook(t *testing.T) {
	var slowCommand string
	var slowDuration time.Duration

	cfg := DefaultMetricsConfig()
	cfg.SlowRequestThreshold = 10 * time.Millisecond
	cfg.OnSlowRequest = func(command string, duration time.Duration, telegramID int64) {
		slowCommand = command
		slowDuration = duration
	}

	m := NewMetricsMiddleware(cfg)

	fast := m.Start("queue", 9005)
	fast.End(nil)
	assert.Empty(t, slowCommand, "fast request must not trip the hook")

	slow := m.Start("upload", 9005)
	slow.StartTime = time.Now().Add(-50 * time.Millisecond)
	slow.End(nil)

	assert.Equal(t, "upload", slowCommand)
	assert.GreaterOrEqual(t, slowDuration, 50*time.Millisecond)
}

func TestMetricsMiddleware_GroupsErrorsByTruncatedMessage(t *testing.T) {
	m := NewMetricsMiddleware(DefaultMetricsConfig())

	noisy := errors.New(strings.Repeat("x", 150))
	m.Start("upload", 9006).End(noisy)
	m.Start("upload", 9006).End(noisy)
	m.Start("queue", 9006).End(errors.New("lease expired"))

	snap := m.Snapshot()

	require.Len(t, snap.TopErrors, 2)
	assert.Equal(t, strings.Repeat("x", 100)+"...", snap.TopErrors[0].Error)
	assert.Equal(t, int64(2), snap.TopErrors[0].Count)
	assert.Equal(t, "lease expired", snap.TopErrors[1].Error)
}

func TestMetricsMiddleware_LatencyBufferStaysBounded(t *testing.T) {
	cfg := DefaultMetricsConfig()
	cfg.MaxLatencySamples = 10

	m := NewMetricsMiddleware(cfg)

	for i := 0; i < 50; i++ {
		m.Start("review", 9007).End(nil)
	}

	snap := m.Snapshot()
	review := snap.Commands["review"]
	require.NotNil(t, review)
	assert.Equal(t, int64(50), review.TotalCount)
	// Percentiles still come out of the trimmed buffer.
	assert.GreaterOrEqual(t, review.P95Duration, time.Duration(0))
}
