package candidate

import (
	"context"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// Repository defines the interface for candidate persistence.
// This interface is implemented by the infrastructure layer.
// Candidates are never deleted: rejection is a state change.
type Repository interface {
	// Basic operations

	// Save persists a new candidate.
	Save(ctx context.Context, c *Candidate) error

	// SaveAll persists a set of candidates from one ingest in a single round trip.
	SaveAll(ctx context.Context, candidates []*Candidate) error

	// Update persists changes to an existing candidate.
	Update(ctx context.Context, c *Candidate) error

	// GetByID returns a candidate by its ID.
	GetByID(ctx context.Context, id shared.CandidateID) (*Candidate, error)

	// Decision operations

	// DecidePending applies a terminal decision to a candidate only if it is
	// still pending. Returns false without error when the candidate was
	// already decided; the caller treats that as a lost race.
	DecidePending(ctx context.Context, id shared.CandidateID, state State, adminID shared.TelegramID, decidedAt time.Time) (bool, error)

	// Batch-scoped queries

	// ListByBatch returns all candidates of a batch in creation order.
	ListByBatch(ctx context.Context, batchID shared.BatchID) ([]*Candidate, error)

	// ListPendingByBatch returns undecided candidates of a batch in creation order.
	ListPendingByBatch(ctx context.Context, batchID shared.BatchID, limit, offset int) ([]*Candidate, error)

	// CountByState returns candidate counts of a batch grouped by state.
	CountByState(ctx context.Context, batchID shared.BatchID) (map[State]int, error)

	// Publication queries

	// ListPublished returns approved candidates for a topic, newest first.
	// An empty difficulty means any difficulty.
	ListPublished(ctx context.Context, topicID shared.TopicID, difficulty Difficulty, limit, offset int) ([]*Candidate, error)

	// CountPublished returns the number of approved candidates for a topic.
	CountPublished(ctx context.Context, topicID shared.TopicID) (int, error)

	// Reporting queries

	// AggregateContributors returns per-uploader candidate totals across all
	// batches, ordered by approved count descending. Used to rebuild the
	// contributor stats cache.
	AggregateContributors(ctx context.Context, limit int) ([]ContributorAggregate, error)

	// CountDecidedBetween returns the number of decisions made within [from, to).
	// Used by the daily review digest.
	CountDecidedBetween(ctx context.Context, from, to time.Time) (approved int, rejected int, err error)
}

// ContributorAggregate represents per-uploader candidate totals.
type ContributorAggregate struct {
	// UploaderID is the Telegram ID of the uploader.
	UploaderID shared.TelegramID

	// Submitted is the total number of extracted candidates.
	Submitted int

	// Approved is the number of approved candidates.
	Approved int

	// Rejected is the number of rejected candidates, auto-rejections included.
	Rejected int

	// Pending is the number of candidates still awaiting review.
	Pending int
}

// ApprovalRate returns the share of approved candidates among decided ones.
func (a ContributorAggregate) ApprovalRate() float64 {
	decided := a.Approved + a.Rejected
	if decided == 0 {
		return 0
	}
	return float64(a.Approved) / float64(decided)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTERFACE
// Для кеширования опубликованных вопросов по темам.
// ══════════════════════════════════════════════════════════════════════════════

// Cache определяет операции кеширования опубликованных вопросов.
type Cache interface {
	// GetPublished получает опубликованные вопросы темы из кеша.
	GetPublished(ctx context.Context, topicID shared.TopicID, difficulty Difficulty) ([]*Candidate, error)

	// SetPublished сохраняет опубликованные вопросы темы в кеш.
	SetPublished(ctx context.Context, topicID shared.TopicID, difficulty Difficulty, candidates []*Candidate, ttl time.Duration) error

	// InvalidateTopic сбрасывает кеш темы после новых одобрений.
	InvalidateTopic(ctx context.Context, topicID shared.TopicID) error
}

// ContributorCache определяет операции кеширования статистики загрузчиков.
// Кеш перестраивается фоновым заданием и при промахе заполняется запросом.
type ContributorCache interface {
	// GetStats получает общий список статистики из кеша.
	GetStats(ctx context.Context) ([]ContributorAggregate, error)

	// SetStats сохраняет список статистики в кеш.
	SetStats(ctx context.Context, stats []ContributorAggregate, ttl time.Duration) error

	// GetContributor получает статистику одного загрузчика из кеша.
	GetContributor(ctx context.Context, uploaderID shared.TelegramID) (*ContributorAggregate, error)

	// Invalidate сбрасывает кеш статистики.
	Invalidate(ctx context.Context) error
}
