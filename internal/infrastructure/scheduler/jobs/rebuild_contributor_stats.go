// Package jobs contains implementations of scheduled jobs for the content
// pipeline worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD CONTRIBUTOR STATS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildContributorStatsJob refreshes the cached per-uploader totals.
//
// The cache is invalidated on every batch completion, so most /mystats
// calls rebuild it on demand. This job backstops the on-demand path:
// a periodic full rebuild keeps the cache warm and bounds how stale the
// numbers can get when invalidation is missed (for example after a
// Redis restart).
type RebuildContributorStatsJob struct {
	// Dependencies
	candidateRepo candidate.Repository
	statsCache    candidate.ContributorCache
	logger        *slog.Logger

	// Configuration
	config RebuildContributorStatsConfig

	// State
	lastRunStats atomic.Value // *RebuildContributorStatsStats
}

// RebuildContributorStatsConfig contains configuration for the rebuild job.
type RebuildContributorStatsConfig struct {
	// Limit caps the number of contributors to aggregate.
	Limit int

	// CacheTTL is the TTL for the rebuilt cache entry.
	CacheTTL time.Duration

	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultRebuildContributorStatsConfig returns sensible defaults.
func DefaultRebuildContributorStatsConfig() RebuildContributorStatsConfig {
	return RebuildContributorStatsConfig{
		Limit:    500,
		CacheTTL: time.Hour,
		Timeout:  2 * time.Minute,
	}
}

// RebuildContributorStatsStats contains statistics from a rebuild run.
type RebuildContributorStatsStats struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	Contributors int
}

// NewRebuildContributorStatsJob creates a new rebuild job.
func NewRebuildContributorStatsJob(
	candidateRepo candidate.Repository,
	statsCache candidate.ContributorCache,
	logger *slog.Logger,
	config RebuildContributorStatsConfig,
) *RebuildContributorStatsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRebuildContributorStatsConfig().Limit
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultRebuildContributorStatsConfig().CacheTTL
	}

	return &RebuildContributorStatsJob{
		candidateRepo: candidateRepo,
		statsCache:    statsCache,
		logger:        logger,
		config:        config,
	}
}

// Name returns the job name.
func (j *RebuildContributorStatsJob) Name() string {
	return "rebuild_contributor_stats"
}

// Description returns a human-readable description.
func (j *RebuildContributorStatsJob) Description() string {
	return "Rebuilds the cached per-uploader contribution totals"
}

// Run executes the rebuild job.
func (j *RebuildContributorStatsJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	aggregates, err := j.candidateRepo.AggregateContributors(ctx, j.config.Limit)
	if err != nil {
		return fmt.Errorf("aggregate contributors: %w", err)
	}

	if err := j.statsCache.SetStats(ctx, aggregates, j.config.CacheTTL); err != nil {
		return fmt.Errorf("store contributor stats: %w", err)
	}

	stats := &RebuildContributorStatsStats{
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
		Contributors: len(aggregates),
	}
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)

	j.logger.Info("contributor stats rebuilt",
		"contributors", stats.Contributors,
		"duration", stats.Duration.String(),
	)

	return nil
}

// LastRunStats returns statistics from the last rebuild run.
func (j *RebuildContributorStatsJob) LastRunStats() *RebuildContributorStatsStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*RebuildContributorStatsStats)
}
