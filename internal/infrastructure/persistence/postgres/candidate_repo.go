// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANDIDATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const candidateColumns = `id, batch_id, topic_id, question, options, correct_index,
	   explanation, difficulty, confidence, score, verdict, comments,
	   heuristic, state, reviewed_by, decided_at, created_at, updated_at`

// CandidateRepository implements candidate.Repository for PostgreSQL.
// Rows are never deleted; rejection and approval are state transitions.
type CandidateRepository struct {
	q Querier
}

// NewCandidateRepository creates a new CandidateRepository on the connection pool.
func NewCandidateRepository(conn *Connection) *CandidateRepository {
	return &CandidateRepository{q: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Basic Operations
// ─────────────────────────────────────────────────────────────────────────────

// Save persists a new candidate.
func (r *CandidateRepository) Save(ctx context.Context, c *candidate.Candidate) error {
	query := `
		INSERT INTO candidates (
			id, batch_id, topic_id, question, options, correct_index,
			explanation, difficulty, confidence, score, verdict, comments,
			heuristic, state, reviewed_by, decided_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.q.Exec(ctx, query, r.insertArgs(c)...)
	if err != nil {
		return fmt.Errorf("failed to create candidate: %w", err)
	}

	return nil
}

// SaveAll persists a set of candidates from one ingest in a single round trip.
func (r *CandidateRepository) SaveAll(ctx context.Context, candidates []*candidate.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	const fields = 18
	placeholders := make([]string, len(candidates))
	args := make([]interface{}, 0, len(candidates)*fields)

	for i, c := range candidates {
		nums := make([]string, fields)
		for j := 0; j < fields; j++ {
			nums[j] = fmt.Sprintf("$%d", i*fields+j+1)
		}
		placeholders[i] = "(" + strings.Join(nums, ", ") + ")"
		args = append(args, r.insertArgs(c)...)
	}

	query := fmt.Sprintf(`
		INSERT INTO candidates (
			id, batch_id, topic_id, question, options, correct_index,
			explanation, difficulty, confidence, score, verdict, comments,
			heuristic, state, reviewed_by, decided_at, created_at, updated_at
		) VALUES %s
	`, strings.Join(placeholders, ", "))

	_, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create candidates: %w", err)
	}

	return nil
}

// Update persists changes to an existing candidate.
func (r *CandidateRepository) Update(ctx context.Context, c *candidate.Candidate) error {
	query := `
		UPDATE candidates SET
			difficulty = $1,
			confidence = $2,
			score = $3,
			verdict = $4,
			comments = $5,
			heuristic = $6,
			state = $7,
			reviewed_by = $8,
			decided_at = $9,
			updated_at = $10
		WHERE id = $11
	`

	result, err := r.q.Exec(ctx, query,
		string(c.Difficulty),
		c.Confidence,
		int(c.Score),
		string(c.Verdict),
		c.Comments,
		c.Heuristic,
		string(c.State),
		int64(c.ReviewedBy),
		nullableTime(c.DecidedAt),
		c.UpdatedAt,
		string(c.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update candidate: %w", err)
	}

	if result.RowsAffected() == 0 {
		return candidate.ErrCandidateNotFound
	}

	return nil
}

// GetByID returns a candidate by its ID.
func (r *CandidateRepository) GetByID(ctx context.Context, id shared.CandidateID) (*candidate.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE id = $1`

	row := r.q.QueryRow(ctx, query, string(id))
	return r.scanCandidate(row)
}

// ─────────────────────────────────────────────────────────────────────────────
// Decision Operations
// ─────────────────────────────────────────────────────────────────────────────

// DecidePending applies a terminal decision only if the candidate is still
// pending. The WHERE clause makes the check-and-set atomic: of two racing
// admins exactly one sees an affected row, the other gets false.
func (r *CandidateRepository) DecidePending(ctx context.Context, id shared.CandidateID, state candidate.State, adminID shared.TelegramID, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE candidates SET
			state = $1,
			reviewed_by = $2,
			decided_at = $3,
			updated_at = $3
		WHERE id = $4 AND state = 'pending'
	`

	result, err := r.q.Exec(ctx, query,
		string(state),
		int64(adminID),
		decidedAt,
		string(id),
	)
	if err != nil {
		return false, fmt.Errorf("failed to decide candidate: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch-Scoped Queries
// ─────────────────────────────────────────────────────────────────────────────

// ListByBatch returns all candidates of a batch in creation order.
func (r *CandidateRepository) ListByBatch(ctx context.Context, batchID shared.BatchID) ([]*candidate.Candidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM candidates
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, string(batchID))
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates by batch: %w", err)
	}
	defer rows.Close()

	return r.scanCandidates(rows)
}

// ListPendingByBatch returns undecided candidates of a batch in creation order.
func (r *CandidateRepository) ListPendingByBatch(ctx context.Context, batchID shared.BatchID, limit, offset int) ([]*candidate.Candidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM candidates
		WHERE batch_id = $1 AND state = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.Query(ctx, query, string(batchID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending candidates: %w", err)
	}
	defer rows.Close()

	return r.scanCandidates(rows)
}

// CountByState returns candidate counts of a batch grouped by state.
func (r *CandidateRepository) CountByState(ctx context.Context, batchID shared.BatchID) (map[candidate.State]int, error) {
	query := `SELECT state, COUNT(*) FROM candidates WHERE batch_id = $1 GROUP BY state`

	rows, err := r.q.Query(ctx, query, string(batchID))
	if err != nil {
		return nil, fmt.Errorf("failed to count candidates by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[candidate.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[candidate.State(state)] = count
	}

	return counts, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Publication Queries
// ─────────────────────────────────────────────────────────────────────────────

// ListPublished returns approved candidates for a topic, newest first.
func (r *CandidateRepository) ListPublished(ctx context.Context, topicID shared.TopicID, difficulty candidate.Difficulty, limit, offset int) ([]*candidate.Candidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM candidates
		WHERE topic_id = $1 AND state = 'approved'
	`

	args := []interface{}{int64(topicID)}
	if difficulty != "" {
		query += ` AND difficulty = $2`
		args = append(args, string(difficulty))
	}

	query += fmt.Sprintf(" ORDER BY decided_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query published candidates: %w", err)
	}
	defer rows.Close()

	return r.scanCandidates(rows)
}

// CountPublished returns the number of approved candidates for a topic.
func (r *CandidateRepository) CountPublished(ctx context.Context, topicID shared.TopicID) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM candidates WHERE topic_id = $1 AND state = 'approved'",
		int64(topicID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count published candidates: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reporting Queries
// ─────────────────────────────────────────────────────────────────────────────

// AggregateContributors returns per-uploader candidate totals, ordered by
// approved count descending.
func (r *CandidateRepository) AggregateContributors(ctx context.Context, limit int) ([]candidate.ContributorAggregate, error) {
	query := `
		SELECT b.uploader_id,
			   COUNT(*) AS submitted,
			   COUNT(*) FILTER (WHERE c.state = 'approved') AS approved,
			   COUNT(*) FILTER (WHERE c.state = 'rejected') AS rejected,
			   COUNT(*) FILTER (WHERE c.state = 'pending') AS pending
		FROM candidates c
		JOIN upload_batches b ON b.id = c.batch_id
		GROUP BY b.uploader_id
		ORDER BY approved DESC, submitted DESC
		LIMIT $1
	`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate contributors: %w", err)
	}
	defer rows.Close()

	var aggregates []candidate.ContributorAggregate
	for rows.Next() {
		var agg candidate.ContributorAggregate
		var uploaderID int64

		err := rows.Scan(&uploaderID, &agg.Submitted, &agg.Approved, &agg.Rejected, &agg.Pending)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contributor aggregate: %w", err)
		}

		agg.UploaderID = shared.TelegramID(uploaderID)
		aggregates = append(aggregates, agg)
	}

	return aggregates, rows.Err()
}

// CountDecidedBetween returns the number of decisions made within [from, to).
func (r *CandidateRepository) CountDecidedBetween(ctx context.Context, from, to time.Time) (int, int, error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE state = 'approved'),
			   COUNT(*) FILTER (WHERE state = 'rejected')
		FROM candidates
		WHERE decided_at >= $1 AND decided_at < $2
	`

	var approved, rejected int
	if err := r.q.QueryRow(ctx, query, from, to).Scan(&approved, &rejected); err != nil {
		return 0, 0, fmt.Errorf("failed to count decided candidates: %w", err)
	}

	return approved, rejected, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// insertArgs lists the insert values in candidateColumns order.
func (r *CandidateRepository) insertArgs(c *candidate.Candidate) []interface{} {
	return []interface{}{
		string(c.ID),
		string(c.BatchID),
		int64(c.TopicID),
		c.Text,
		c.Options,
		c.CorrectIndex,
		c.Explanation,
		string(c.Difficulty),
		c.Confidence,
		int(c.Score),
		string(c.Verdict),
		c.Comments,
		c.Heuristic,
		string(c.State),
		int64(c.ReviewedBy),
		nullableTime(c.DecidedAt),
		c.CreatedAt,
		c.UpdatedAt,
	}
}

// scanCandidate scans a single candidate from a row.
func (r *CandidateRepository) scanCandidate(row pgx.Row) (*candidate.Candidate, error) {
	var c candidate.Candidate
	var id, batchID, difficulty, verdict, state string
	var topicID, reviewedBy int64
	var score int
	var decidedAt *time.Time

	err := row.Scan(
		&id,
		&batchID,
		&topicID,
		&c.Text,
		&c.Options,
		&c.CorrectIndex,
		&c.Explanation,
		&difficulty,
		&c.Confidence,
		&score,
		&verdict,
		&c.Comments,
		&c.Heuristic,
		&state,
		&reviewedBy,
		&decidedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if IsNoRows(err) {
		return nil, candidate.ErrCandidateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}

	c.ID = shared.CandidateID(id)
	c.BatchID = shared.BatchID(batchID)
	c.TopicID = shared.TopicID(topicID)
	c.Difficulty = candidate.Difficulty(difficulty)
	c.Score = candidate.Score(score)
	c.Verdict = candidate.Verdict(verdict)
	c.State = candidate.State(state)
	c.ReviewedBy = shared.TelegramID(reviewedBy)
	c.DecidedAt = timeOrZero(decidedAt)

	return &c, nil
}

// scanCandidates scans multiple candidates from rows.
func (r *CandidateRepository) scanCandidates(rows pgx.Rows) ([]*candidate.Candidate, error) {
	var candidates []*candidate.Candidate

	for rows.Next() {
		c, err := r.scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return candidates, nil
}
