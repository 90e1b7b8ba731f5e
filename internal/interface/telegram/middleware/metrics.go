package middleware

import (
	"sort"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// In-process counters and latency samples behind the /status report.
// The questions that matter for a moderation bot: how long an upload takes
// end to end, how fast reviewers burn through the queue, and which commands
// fail. Numbers live in memory and reset with the process.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// EnableDetailedTiming keeps per-command latency samples for
	// percentile calculation. Off, only counters are tracked.
	EnableDetailedTiming bool

	// MaxLatencySamples caps the per-command sample buffer. When full,
	// the oldest half is dropped so percentiles track recent behavior.
	MaxLatencySamples int

	// SlowRequestThreshold defines what counts as a slow request.
	// Uploads legitimately run for seconds (download, extraction,
	// scoring), so the threshold is looser than for a chat bot.
	SlowRequestThreshold time.Duration

	// OnSlowRequest fires when a request exceeds the threshold.
	OnSlowRequest func(command string, duration time.Duration, telegramID int64)
}

// DefaultMetricsConfig returns sensible defaults for metrics middleware.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		EnableDetailedTiming: true,
		MaxLatencySamples:    2048,
		SlowRequestThreshold: 5 * time.Second,
	}
}

// MetricsMiddleware accumulates usage counters across all handlers.
type MetricsMiddleware struct {
	config MetricsConfig

	mu             sync.Mutex
	totalRequests  int64
	totalErrors    int64
	activeRequests int64
	commands       map[string]*commandRecord
	errorCounts    map[string]int64
	lastSeen       map[int64]time.Time
}

// commandRecord accumulates counters for one command. Everything is
// guarded by the middleware mutex; at bot traffic rates contention is
// not a concern.
type commandRecord struct {
	name        string
	total       int64
	errors      int64
	totalDur    time.Duration
	minDur      time.Duration
	maxDur      time.Duration
	latencies   []time.Duration
	admins      map[int64]struct{}
	lastInvoked time.Time
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	return &MetricsMiddleware{
		config:      config,
		commands:    make(map[string]*commandRecord),
		errorCounts: make(map[string]int64),
		lastSeen:    make(map[int64]time.Time),
	}
}

// RequestContext tracks one in-flight request from Start to End.
type RequestContext struct {
	// Command being executed.
	Command string

	// TelegramID of the user.
	TelegramID int64

	// StartTime when the request started.
	StartTime time.Time

	owner *MetricsMiddleware
}

// Start begins tracking a request. The caller must invoke End on the
// returned context exactly once.
func (m *MetricsMiddleware) Start(command string, telegramID int64) *RequestContext {
	m.mu.Lock()
	m.totalRequests++
	m.activeRequests++
	m.lastSeen[telegramID] = time.Now()
	m.mu.Unlock()

	return &RequestContext{
		Command:    command,
		TelegramID: telegramID,
		StartTime:  time.Now(),
		owner:      m,
	}
}

// End completes tracking for a request.
func (rc *RequestContext) End(err error) {
	m := rc.owner
	duration := time.Since(rc.StartTime)

	m.mu.Lock()

	m.activeRequests--

	rec, ok := m.commands[rc.Command]
	if !ok {
		rec = &commandRecord{
			name:   rc.Command,
			admins: make(map[int64]struct{}),
		}
		m.commands[rc.Command] = rec
	}

	rec.total++
	rec.totalDur += duration
	if rec.minDur == 0 || duration < rec.minDur {
		rec.minDur = duration
	}
	if duration > rec.maxDur {
		rec.maxDur = duration
	}
	rec.admins[rc.TelegramID] = struct{}{}
	rec.lastInvoked = time.Now()

	if err != nil {
		rec.errors++
		m.totalErrors++
		m.errorCounts[truncateError(err.Error())]++
	}

	if m.config.EnableDetailedTiming {
		rec.latencies = append(rec.latencies, duration)
		if limit := m.config.MaxLatencySamples; limit > 0 && len(rec.latencies) > limit {
			// Keep the newer half
			keep := rec.latencies[len(rec.latencies)-limit/2:]
			rec.latencies = append(rec.latencies[:0], keep...)
		}
	}

	m.mu.Unlock()

	if m.config.OnSlowRequest != nil && duration > m.config.SlowRequestThreshold {
		m.config.OnSlowRequest(rc.Command, duration, rc.TelegramID)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS SNAPSHOT
// Point-in-time view of all collected metrics.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsSnapshot represents a point-in-time view of all metrics.
type MetricsSnapshot struct {
	// Timestamp when the snapshot was taken.
	Timestamp time.Time

	// Global counters.
	TotalRequests  int64
	TotalErrors    int64
	ActiveRequests int64
	ErrorRate      float64

	// Per-command metrics.
	Commands map[string]*CommandSnapshot

	// Admins active in the last hour/day.
	ActiveAdminsLastHour int
	ActiveAdminsLastDay  int

	// Most frequent error messages, capped at ten.
	TopErrors []ErrorCount

	// Latency percentiles merged across commands.
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
	LatencyAvg time.Duration
	LatencyMax time.Duration
}

// CommandSnapshot represents metrics for a single command.
type CommandSnapshot struct {
	Name         string
	TotalCount   int64
	SuccessCount int64
	ErrorCount   int64
	ErrorRate    float64
	AvgDuration  time.Duration
	MinDuration  time.Duration
	MaxDuration  time.Duration
	P50Duration  time.Duration
	P95Duration  time.Duration
	P99Duration  time.Duration
	UniqueAdmins int
	LastInvoked  time.Time
}

// ErrorCount represents an error message and how often it occurred.
type ErrorCount struct {
	Error string
	Count int64
}

// Snapshot returns a point-in-time view of all metrics. Admin activity
// entries older than a day are dropped here; there is no background
// janitor.
func (m *MetricsMiddleware) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := &MetricsSnapshot{
		Timestamp:      now,
		TotalRequests:  m.totalRequests,
		TotalErrors:    m.totalErrors,
		ActiveRequests: m.activeRequests,
		Commands:       make(map[string]*CommandSnapshot, len(m.commands)),
	}

	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}

	merged := make([]time.Duration, 0, 1024)
	for name, rec := range m.commands {
		snap.Commands[name] = rec.snapshot()
		merged = append(merged, rec.latencies...)
	}

	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)
	for id, seen := range m.lastSeen {
		if seen.Before(dayAgo) {
			delete(m.lastSeen, id)
			continue
		}
		snap.ActiveAdminsLastDay++
		if seen.After(hourAgo) {
			snap.ActiveAdminsLastHour++
		}
	}

	topErrors := make([]ErrorCount, 0, len(m.errorCounts))
	for msg, count := range m.errorCounts {
		topErrors = append(topErrors, ErrorCount{Error: msg, Count: count})
	}
	sort.Slice(topErrors, func(i, j int) bool {
		if topErrors[i].Count != topErrors[j].Count {
			return topErrors[i].Count > topErrors[j].Count
		}
		return topErrors[i].Error < topErrors[j].Error
	})
	if len(topErrors) > 10 {
		topErrors = topErrors[:10]
	}
	snap.TopErrors = topErrors

	if len(merged) > 0 {
		sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })

		var sum time.Duration
		for _, d := range merged {
			sum += d
		}

		snap.LatencyP50 = percentile(merged, 0.50)
		snap.LatencyP95 = percentile(merged, 0.95)
		snap.LatencyP99 = percentile(merged, 0.99)
		snap.LatencyAvg = sum / time.Duration(len(merged))
		snap.LatencyMax = merged[len(merged)-1]
	}

	return snap
}

// snapshot copies one command record. Caller holds the middleware mutex.
func (cr *commandRecord) snapshot() *CommandSnapshot {
	snap := &CommandSnapshot{
		Name:         cr.name,
		TotalCount:   cr.total,
		SuccessCount: cr.total - cr.errors,
		ErrorCount:   cr.errors,
		MinDuration:  cr.minDur,
		MaxDuration:  cr.maxDur,
		UniqueAdmins: len(cr.admins),
		LastInvoked:  cr.lastInvoked,
	}

	if cr.total > 0 {
		snap.ErrorRate = float64(cr.errors) / float64(cr.total)
		snap.AvgDuration = cr.totalDur / time.Duration(cr.total)
	}

	if len(cr.latencies) > 0 {
		sorted := make([]time.Duration, len(cr.latencies))
		copy(sorted, cr.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		snap.P50Duration = percentile(sorted, 0.50)
		snap.P95Duration = percentile(sorted, 0.95)
		snap.P99Duration = percentile(sorted, 0.99)
	}

	return snap
}

// percentile picks the percentile value from sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// truncateError caps error messages used as grouping keys, so one
// misbehaving dependency embedding payloads in errors cannot balloon
// the counter map.
func truncateError(msg string) string {
	if len(msg) > 100 {
		return msg[:100] + "..."
	}
	return msg
}
