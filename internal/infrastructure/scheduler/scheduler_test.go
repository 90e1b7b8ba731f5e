package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
	desc string
	run  func(ctx context.Context) error
	runs atomic.Int32
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return j.desc }

func (j *stubJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.run != nil {
		return j.run(ctx)
	}
	return nil
}

func newTestScheduler() *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(cfg)
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler()

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&stubJob{name: "review_digest"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&stubJob{name: "review_digest"}, NewIntervalSchedule(time.Minute)))
	err := s.Register(&stubJob{name: "review_digest"}, NewIntervalSchedule(time.Hour))
	assert.ErrorIs(t, err, ErrJobAlreadyExists)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "cleanup_access_codes", desc: "deactivates expired invite codes"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.RunNow(context.Background(), "cleanup_access_codes"))
	assert.Equal(t, int32(1), job.runs.Load())

	err := s.RunNow(context.Background(), "rebuild_contributor_stats")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowReportsJobError(t *testing.T) {
	s := newTestScheduler()
	jobErr := errors.New("supabase: connection reset")
	job := &stubJob{
		name: "stale_drafts",
		run:  func(context.Context) error { return jobErr },
	}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	assert.ErrorIs(t, s.RunNow(context.Background(), "stale_drafts"), jobErr)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].Runs)
	assert.Equal(t, 1, infos[0].Failures)
	assert.ErrorIs(t, infos[0].LastError, jobErr)
}

func TestScheduler_RunNowRecoversPanic(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{
		name: "review_digest",
		run:  func(context.Context) error { panic("nil batch repository") },
	}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	err := s.RunNow(context.Background(), "review_digest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job panic")
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	s := newTestScheduler()

	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_FiresDueJobs(t *testing.T) {
	s := newTestScheduler()
	fired := make(chan struct{}, 1)
	job := &stubJob{
		name: "cleanup_access_codes",
		run: func(context.Context) error {
			select {
			case fired <- struct{}{}:
			default:
			}
			return nil
		},
	}
	// Due almost immediately; the 1s tick picks it up on the first sweep.
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop()) }()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire within 3s")
	}
	assert.GreaterOrEqual(t, job.runs.Load(), int32(1))
}

func TestScheduler_StopCancelsRunningJobs(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{}, 1)
	job := &stubJob{
		name: "stale_drafts",
		run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start within 3s")
	}

	// Stop cancels the job context and must not return before the
	// blocked run has unwound.
	require.NoError(t, s.Stop())
	assert.GreaterOrEqual(t, job.runs.Load(), int32(1))
}

func TestScheduler_ListJobsSortedSnapshot(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(
		&stubJob{name: "stale_drafts", desc: "flags batches stuck in review"},
		NewIntervalSchedule(30*time.Minute),
	))
	require.NoError(t, s.Register(
		&stubJob{name: "review_digest", desc: "daily queue summary for reviewers"},
		MustParseCronExpression(EveryDay9AM),
	))

	infos := s.ListJobs()
	require.Len(t, infos, 2)
	assert.Equal(t, "review_digest", infos[0].Name)
	assert.Equal(t, "0 9 * * *", infos[0].Schedule)
	assert.Equal(t, "stale_drafts", infos[1].Name)
	assert.Equal(t, "@every 30m0s", infos[1].Schedule)
	for _, info := range infos {
		assert.False(t, info.NextRun.IsZero())
		assert.Zero(t, info.Runs)
	}
}
