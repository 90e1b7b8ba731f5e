// Package scheduler drives the worker's periodic jobs: the daily
// review-queue digest, expired access-code cleanup, contributor stats
// rebuilds and stale-draft detection. Jobs fire on cron expressions or
// fixed intervals, evaluated in the application timezone so "9 AM" in a
// digest schedule means 9 AM in Nairobi, not UTC.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrNilJob                  = errors.New("scheduler: job is nil")
	ErrNilSchedule             = errors.New("scheduler: schedule is nil")
	ErrJobAlreadyExists        = errors.New("scheduler: job already registered")
	ErrJobNotFound             = errors.New("scheduler: job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)

// How often the run loop wakes up to look for due jobs. One second keeps
// firing latency low without burning CPU; all schedules here have
// minute-level resolution anyway.
const tickInterval = time.Second

// ══════════════════════════════════════════════════════════════════════════════
// JOB AND SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of periodic work. Implementations live in the jobs
// subpackage and are expected to be idempotent: a slow run can overlap
// the next firing, and the worker may restart mid-run.
type Job interface {
	// Name identifies the job in logs and in Register. Must be unique.
	Name() string

	// Run does the work. The context is cancelled when the scheduler
	// stops, so long sweeps should check it between pages.
	Run(ctx context.Context) error

	// Description is a one-line summary for operators.
	Description() string
}

// Schedule decides when a job fires.
type Schedule interface {
	// Next returns the first firing time strictly after t.
	// A zero time means the schedule will never fire again.
	Next(t time.Time) time.Time

	// String renders the schedule for logs.
	String() string
}

// IntervalSchedule fires at a fixed period, anchored to the previous
// firing rather than to wall-clock boundaries.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule builds a fixed-period schedule. Non-positive
// intervals are coerced to one minute rather than spinning the loop.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalSchedule{Interval: interval}
}

func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig carries the knobs the worker entrypoint sets before
// construction.
type SchedulerConfig struct {
	Logger   *slog.Logger
	Timezone *time.Location
}

// DefaultSchedulerConfig returns a config with UTC evaluation. The
// worker overrides Timezone with the configured application location.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Timezone: time.UTC,
	}
}

// Scheduler owns the job table and the run loop. Register jobs, then
// Start; Stop cancels the job context and waits for in-flight runs.
type Scheduler struct {
	logger *slog.Logger
	tz     *time.Location

	mu      sync.Mutex
	jobs    map[string]*jobState
	running bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// jobState is the scheduler's book-keeping per job. Guarded by
// Scheduler.mu.
type jobState struct {
	job      Job
	schedule Schedule
	nextRun  time.Time
	lastRun  time.Time
	lastErr  error
	runs     int
	failures int
}

// NewScheduler builds an empty scheduler from config.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	return &Scheduler{
		logger: config.Logger,
		tz:     config.Timezone,
		jobs:   make(map[string]*jobState),
	}
}

// Register adds a job under its Name. Registering while running is
// allowed; the first firing is computed from the current time.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	now := time.Now().In(s.tz)
	s.jobs[name] = &jobState{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(now),
	}

	s.logger.Info("job registered",
		"job", name,
		"schedule", schedule.String(),
		"next_run", s.jobs[name].nextRun.Format(time.RFC3339),
	)
	return nil
}

// Start launches the run loop. The passed context bounds the whole
// scheduler: when it is cancelled, running jobs see cancellation too.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("scheduler started",
		"jobs", len(s.jobs),
		"timezone", s.tz.String(),
	)
	return nil
}

// Stop cancels the job context and blocks until the run loop and every
// in-flight job have returned.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching
// Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow executes a registered job immediately, outside its schedule,
// and returns the job's error. The regular firing time is not moved.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	s.logger.Info("job triggered manually", "job", name)
	return s.execute(ctx, js)
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(ctx, now.In(s.tz))
		}
	}
}

// sweep fires every job whose nextRun has arrived. The next firing is
// advanced before Run starts so a slow job cannot fire again on every
// tick while it is still working.
func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*jobState
	for _, js := range s.jobs {
		if js.nextRun.IsZero() || now.Before(js.nextRun) {
			continue
		}
		js.nextRun = js.schedule.Next(now)
		due = append(due, js)
	}
	s.mu.Unlock()

	for _, js := range due {
		s.wg.Add(1)
		go func(js *jobState) {
			defer s.wg.Done()
			_ = s.execute(ctx, js)
		}(js)
	}
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) error {
	name := js.job.Name()
	start := time.Now()

	s.logger.Debug("job started", "job", name)
	err := s.safeRun(ctx, js.job)
	elapsed := time.Since(start)

	s.mu.Lock()
	js.lastRun = start
	js.lastErr = err
	js.runs++
	if err != nil {
		js.failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			"job", name,
			"duration", elapsed.String(),
			"error", err,
		)
		return err
	}

	s.logger.Info("job completed",
		"job", name,
		"duration", elapsed.String(),
	)
	return nil
}

// safeRun converts a job panic into an error so one broken job cannot
// take the whole worker down.
func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is a snapshot of one job's state for logs and diagnostics.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	NextRun     time.Time
	LastRun     time.Time
	LastError   error
	Runs        int
	Failures    int
}

// ListJobs returns a snapshot of every registered job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, js := range s.jobs {
		infos = append(infos, JobInfo{
			Name:        js.job.Name(),
			Description: js.job.Description(),
			Schedule:    js.schedule.String(),
			NextRun:     js.nextRun,
			LastRun:     js.lastRun,
			LastError:   js.lastErr,
			Runs:        js.runs,
			Failures:    js.failures,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
