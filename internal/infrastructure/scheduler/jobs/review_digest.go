// Package jobs contains implementations of scheduled jobs for the content
// pipeline worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW DIGEST JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReviewDigestJob sends each reviewer a summary of the last review period:
// how many batches were completed, how many decisions were made, and how
// much work is still waiting in the queue.
//
// The digest is the only scheduled touchpoint reviewers get. Everything
// else in the pipeline is event-driven, so a batch that nobody picks up
// would otherwise sit silently until an uploader complains.
type ReviewDigestJob struct {
	// Dependencies
	batchRepo     batch.Repository
	candidateRepo candidate.Repository
	adminRepo     admin.Repository
	sender        notification.NotificationSender
	ids           shared.IDGenerator
	logger        *slog.Logger

	// Configuration
	config ReviewDigestConfig

	// State
	lastRunStats atomic.Value // *ReviewDigestStats
}

// ReviewDigestConfig contains configuration for the review digest job.
type ReviewDigestConfig struct {
	// Period is the window the digest reports on, ending at run time.
	Period time.Duration

	// LeaseTTL is used when counting the live review queue.
	LeaseTTL time.Duration

	// SkipWhenIdle suppresses the digest when the period saw no activity
	// and the queue is empty.
	SkipWhenIdle bool

	// Concurrency is the number of digests to send in parallel.
	Concurrency int

	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultReviewDigestConfig returns sensible defaults.
func DefaultReviewDigestConfig() ReviewDigestConfig {
	return ReviewDigestConfig{
		Period:       24 * time.Hour,
		LeaseTTL:     batch.DefaultLeaseTTL,
		SkipWhenIdle: true,
		Concurrency:  4,
		Timeout:      5 * time.Minute,
	}
}

// ReviewDigestStats contains statistics from a digest run.
type ReviewDigestStats struct {
	StartedAt        time.Time
	CompletedAt      time.Time
	Duration         time.Duration
	Reviewers        int
	DigestsSent      int
	DigestsFailed    int
	BatchesCompleted int
	DecisionsTotal   int
	QueueSize        int
	Errors           []error
}

// NewReviewDigestJob creates a new review digest job.
func NewReviewDigestJob(
	batchRepo batch.Repository,
	candidateRepo candidate.Repository,
	adminRepo admin.Repository,
	sender notification.NotificationSender,
	ids shared.IDGenerator,
	logger *slog.Logger,
	config ReviewDigestConfig,
) *ReviewDigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Period <= 0 {
		config.Period = DefaultReviewDigestConfig().Period
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = batch.DefaultLeaseTTL
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultReviewDigestConfig().Concurrency
	}

	return &ReviewDigestJob{
		batchRepo:     batchRepo,
		candidateRepo: candidateRepo,
		adminRepo:     adminRepo,
		sender:        sender,
		ids:           ids,
		logger:        logger,
		config:        config,
	}
}

// Name returns the job name.
func (j *ReviewDigestJob) Name() string {
	return "review_digest"
}

// Description returns a human-readable description.
func (j *ReviewDigestJob) Description() string {
	return "Sends reviewers a periodic summary of review activity and queue depth"
}

// Run executes the review digest job.
func (j *ReviewDigestJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &ReviewDigestStats{
		StartedAt: startedAt,
		Errors:    make([]error, 0),
	}

	j.logger.Info("starting review_digest job")

	// Apply timeout
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := time.Now().UTC()
	from := now.Add(-j.config.Period)

	completed, err := j.batchRepo.ListCompletedBetween(ctx, from, now)
	if err != nil {
		return fmt.Errorf("list completed batches: %w", err)
	}
	stats.BatchesCompleted = len(completed)

	approved, rejected, err := j.candidateRepo.CountDecidedBetween(ctx, from, now)
	if err != nil {
		return fmt.Errorf("count decisions: %w", err)
	}
	stats.DecisionsTotal = approved + rejected

	queueSize, err := j.batchRepo.CountReviewQueue(ctx, 0, nil, now, j.config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("count review queue: %w", err)
	}
	stats.QueueSize = queueSize

	if j.config.SkipWhenIdle && stats.BatchesCompleted == 0 && stats.DecisionsTotal == 0 && queueSize == 0 {
		j.logger.Info("review digest skipped, no activity and empty queue")
		j.finalize(stats)
		return nil
	}

	reviewers, err := j.adminRepo.ListReviewers(ctx)
	if err != nil {
		return fmt.Errorf("list reviewers: %w", err)
	}
	stats.Reviewers = len(reviewers)

	if stats.Reviewers == 0 {
		j.logger.Warn("review digest has no recipients")
		j.finalize(stats)
		return nil
	}

	message := j.formatDigestMessage(approved, rejected, stats)
	data := notification.NotificationData{
		BatchesCompleted: stats.BatchesCompleted,
		DecisionsTotal:   stats.DecisionsTotal,
		PeriodStart:      &from,
		PeriodEnd:        &now,
	}

	j.sendDigestsConcurrently(ctx, reviewers, message, data, stats)

	j.finalize(stats)

	j.logger.Info("review_digest job completed",
		"duration", stats.Duration.String(),
		"reviewers", stats.Reviewers,
		"sent", stats.DigestsSent,
		"failed", stats.DigestsFailed,
		"queue_size", stats.QueueSize,
	)

	return nil
}

// sendDigestsConcurrently delivers the digest using a worker pool.
func (j *ReviewDigestJob) sendDigestsConcurrently(
	ctx context.Context,
	reviewers []*admin.Admin,
	message string,
	data notification.NotificationData,
	stats *ReviewDigestStats,
) {
	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, j.config.Concurrency)
		mu        sync.Mutex
	)

	for _, reviewer := range reviewers {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wg.Add(1)
		semaphore <- struct{}{} // Acquire

		go func(rev *admin.Admin) {
			defer wg.Done()
			defer func() { <-semaphore }() // Release

			err := j.sendDigestToReviewer(ctx, rev, message, data)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				stats.DigestsFailed++
				stats.Errors = append(stats.Errors, err)
				j.logger.Error("failed to send review digest",
					"admin_id", rev.TelegramID.Int64(),
					"error", err,
				)
			} else {
				stats.DigestsSent++
			}
		}(reviewer)
	}

	wg.Wait()
}

// sendDigestToReviewer delivers one digest notification.
func (j *ReviewDigestJob) sendDigestToReviewer(
	ctx context.Context,
	reviewer *admin.Admin,
	message string,
	data notification.NotificationData,
) error {
	notif, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      notification.NotificationID(j.ids.NewID()),
		Type:    notification.NotificationTypeReviewDigest,
		ChatID:  notification.ChatID(reviewer.TelegramID.Int64()),
		Message: message,
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	result := j.sender.Send(ctx, notif)
	if !result.Success {
		return fmt.Errorf("send notification: %w", result.Error)
	}

	return nil
}

// formatDigestMessage renders the digest body shared by all reviewers.
// The date stamp is the run date in Nairobi time, where the reviewers are.
func (j *ReviewDigestJob) formatDigestMessage(approved, rejected int, stats *ReviewDigestStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s Сводка ревью за сутки · %s\n\n",
		notification.NotificationTypeReviewDigest.Emoji(), timeutil.FormatKenyan(stats.StartedAt))
	fmt.Fprintf(&b, "Партий завершено: %d\n", stats.BatchesCompleted)
	fmt.Fprintf(&b, "Решений принято: %d (✅ %d / ❌ %d)\n\n", stats.DecisionsTotal, approved, rejected)

	if stats.QueueSize > 0 {
		fmt.Fprintf(&b, "В очереди сейчас: %d\n", stats.QueueSize)
		b.WriteString("Команда /queue покажет, с чего начать.")
	} else {
		b.WriteString("Очередь пуста. Отличная работа!")
	}

	return b.String()
}

// LastRunStats returns statistics from the last digest run.
func (j *ReviewDigestJob) LastRunStats() *ReviewDigestStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*ReviewDigestStats)
}

// finalize closes out the run statistics.
func (j *ReviewDigestJob) finalize(stats *ReviewDigestStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)
}
