// Package jobs contains implementations of scheduled jobs for the content
// pipeline worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STALE DRAFTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StaleDraftsJob finds batches that have been sitting in the review queue
// longer than the warning threshold and alerts the operations chat.
//
// The job reports and never intervenes: it does not touch leases, does
// not reassign batches, and does not change batch status. Expired leases
// are reclaimed lazily by the next reviewer action, so a stale batch is
// an attention problem, not a data problem.
type StaleDraftsJob struct {
	// Dependencies
	batchRepo batch.Repository
	sender    notification.NotificationSender
	ids       shared.IDGenerator
	logger    *slog.Logger

	// Configuration
	config StaleDraftsConfig

	// State
	lastRunStats atomic.Value // *StaleDraftsStats
}

// StaleDraftsConfig contains configuration for the stale drafts job.
type StaleDraftsConfig struct {
	// WarnAfter is how long a batch may wait in the queue before it is
	// considered stale.
	WarnAfter time.Duration

	// LeaseTTL is used when listing the live review queue.
	LeaseTTL time.Duration

	// Limit caps how many queue entries are scanned per run.
	Limit int

	// MaxListed caps how many stale batches the alert message names.
	MaxListed int

	// OpsChatID is the Telegram chat that receives the alert.
	// Zero disables delivery; stale batches are only logged.
	OpsChatID int64

	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultStaleDraftsConfig returns sensible defaults.
func DefaultStaleDraftsConfig() StaleDraftsConfig {
	return StaleDraftsConfig{
		WarnAfter: 24 * time.Hour,
		LeaseTTL:  batch.DefaultLeaseTTL,
		Limit:     200,
		MaxListed: 10,
		Timeout:   2 * time.Minute,
	}
}

// StaleDraftsStats contains statistics from a detection run.
type StaleDraftsStats struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	QueueChecked int
	StaleFound   int
	OldestAge    time.Duration
	AlertSent    bool
}

// NewStaleDraftsJob creates a new stale drafts job.
func NewStaleDraftsJob(
	batchRepo batch.Repository,
	sender notification.NotificationSender,
	ids shared.IDGenerator,
	logger *slog.Logger,
	config StaleDraftsConfig,
) *StaleDraftsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.WarnAfter <= 0 {
		config.WarnAfter = DefaultStaleDraftsConfig().WarnAfter
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = batch.DefaultLeaseTTL
	}
	if config.Limit <= 0 {
		config.Limit = DefaultStaleDraftsConfig().Limit
	}
	if config.MaxListed <= 0 {
		config.MaxListed = DefaultStaleDraftsConfig().MaxListed
	}

	return &StaleDraftsJob{
		batchRepo: batchRepo,
		sender:    sender,
		ids:       ids,
		logger:    logger,
		config:    config,
	}
}

// Name returns the job name.
func (j *StaleDraftsJob) Name() string {
	return "stale_drafts"
}

// Description returns a human-readable description.
func (j *StaleDraftsJob) Description() string {
	return "Alerts operators about batches stuck in the review queue"
}

// Run executes the detection job.
func (j *StaleDraftsJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &StaleDraftsStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := time.Now().UTC()
	cutoff := now.Add(-j.config.WarnAfter)

	// The unrestricted queue view: every non-terminal batch with no
	// unexpired lease, oldest first.
	queue, err := j.batchRepo.ListReviewQueue(ctx, 0, nil, now, j.config.LeaseTTL, j.config.Limit, 0)
	if err != nil {
		return fmt.Errorf("list review queue: %w", err)
	}
	stats.QueueChecked = len(queue)

	stale := make([]*batch.UploadBatch, 0)
	for _, b := range queue {
		if b.CreatedAt.Before(cutoff) {
			stale = append(stale, b)
		}
	}
	stats.StaleFound = len(stale)

	if len(stale) == 0 {
		j.finalize(stats)
		return nil
	}

	// The queue is ordered oldest first.
	stats.OldestAge = now.Sub(stale[0].CreatedAt)

	j.logger.Warn("stale batches in review queue",
		"count", stats.StaleFound,
		"oldest_age", stats.OldestAge.String(),
		"threshold", j.config.WarnAfter.String(),
	)

	if j.config.OpsChatID == 0 {
		j.finalize(stats)
		return nil
	}

	if err := j.alertOperators(ctx, stale, now); err != nil {
		j.finalize(stats)
		return fmt.Errorf("alert operators: %w", err)
	}
	stats.AlertSent = true

	j.finalize(stats)
	return nil
}

// alertOperators sends one system alert describing the stale batches.
func (j *StaleDraftsJob) alertOperators(ctx context.Context, stale []*batch.UploadBatch, now time.Time) error {
	notif, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      notification.NotificationID(j.ids.NewID()),
		Type:    notification.NotificationTypeSystemAlert,
		ChatID:  notification.ChatID(j.config.OpsChatID),
		Message: j.formatAlertMessage(stale, now),
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

// formatAlertMessage renders the operator alert body.
func (j *StaleDraftsJob) formatAlertMessage(stale []*batch.UploadBatch, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s Партии застряли в очереди ревью\n\n", notification.NotificationTypeSystemAlert.Emoji())
	fmt.Fprintf(&b, "Дольше %s ждут ревью: %d\n\n", formatAge(j.config.WarnAfter), len(stale))

	listed := stale
	if len(listed) > j.config.MaxListed {
		listed = listed[:j.config.MaxListed]
	}

	for _, batchItem := range listed {
		age := now.Sub(batchItem.CreatedAt)
		fmt.Fprintf(&b, "• %s — тема %d, вопросов %d, ждёт %s\n",
			shortBatchID(batchItem.ID),
			batchItem.TopicID,
			batchItem.PendingCount,
			formatAge(age),
		)
	}

	if len(stale) > len(listed) {
		fmt.Fprintf(&b, "…и ещё %d\n", len(stale)-len(listed))
	}

	return b.String()
}

// shortBatchID trims a UUID to its first group for display.
func shortBatchID(id shared.BatchID) string {
	s := id.String()
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// formatAge renders a duration as whole hours or days.
func formatAge(d time.Duration) string {
	hours := int(d.Hours())
	if hours < 48 {
		return fmt.Sprintf("%d ч", hours)
	}
	return fmt.Sprintf("%d дн", hours/24)
}

// LastRunStats returns statistics from the last detection run.
func (j *StaleDraftsJob) LastRunStats() *StaleDraftsStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*StaleDraftsStats)
}

// finalize closes out the run statistics.
func (j *StaleDraftsJob) finalize(stats *StaleDraftsStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)
}
