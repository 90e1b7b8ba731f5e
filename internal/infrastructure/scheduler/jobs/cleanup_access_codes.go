// Package jobs contains implementations of scheduled jobs for the content
// pipeline worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP ACCESS CODES JOB
// ══════════════════════════════════════════════════════════════════════════════

// CleanupAccessCodesJob deactivates expired reviewer access codes.
//
// Codes are never deleted: a deactivated code stays on record with its
// issuance metadata, it just can no longer be redeemed. The job exists
// so that an issued-but-forgotten code does not remain redeemable
// forever.
type CleanupAccessCodesJob struct {
	// Dependencies
	codeRepo admin.AccessCodeRepository
	logger   *slog.Logger

	// Configuration
	config CleanupAccessCodesConfig

	// State
	lastRunStats atomic.Value // *CleanupAccessCodesStats
}

// CleanupAccessCodesConfig contains configuration for the cleanup job.
type CleanupAccessCodesConfig struct {
	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultCleanupAccessCodesConfig returns sensible defaults.
func DefaultCleanupAccessCodesConfig() CleanupAccessCodesConfig {
	return CleanupAccessCodesConfig{
		Timeout: time.Minute,
	}
}

// CleanupAccessCodesStats contains statistics from a cleanup run.
type CleanupAccessCodesStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Deactivated int
}

// NewCleanupAccessCodesJob creates a new cleanup job.
func NewCleanupAccessCodesJob(
	codeRepo admin.AccessCodeRepository,
	logger *slog.Logger,
	config CleanupAccessCodesConfig,
) *CleanupAccessCodesJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &CleanupAccessCodesJob{
		codeRepo: codeRepo,
		logger:   logger,
		config:   config,
	}
}

// Name returns the job name.
func (j *CleanupAccessCodesJob) Name() string {
	return "cleanup_access_codes"
}

// Description returns a human-readable description.
func (j *CleanupAccessCodesJob) Description() string {
	return "Deactivates expired reviewer access codes"
}

// Run executes the cleanup job.
func (j *CleanupAccessCodesJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	deactivated, err := j.codeRepo.DeactivateExpired(ctx, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("deactivate expired access codes: %w", err)
	}

	stats := &CleanupAccessCodesStats{
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Deactivated: deactivated,
	}
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)

	if deactivated > 0 {
		j.logger.Info("expired access codes deactivated", "count", deactivated)
	}

	return nil
}

// LastRunStats returns statistics from the last cleanup run.
func (j *CleanupAccessCodesJob) LastRunStats() *CleanupAccessCodesStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*CleanupAccessCodesStats)
}
