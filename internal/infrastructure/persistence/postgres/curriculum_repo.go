// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

import (
	"context"
	"fmt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRepository implements curriculum.Repository for PostgreSQL.
// The reference data is seeded by migrations, so every method is a read.
type CurriculumRepository struct {
	q Querier
}

// NewCurriculumRepository creates a new CurriculumRepository on the connection pool.
func NewCurriculumRepository(conn *Connection) *CurriculumRepository {
	return &CurriculumRepository{q: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Navigation Queries
// ─────────────────────────────────────────────────────────────────────────────

// ListUniversities returns all universities.
func (r *CurriculumRepository) ListUniversities(ctx context.Context) ([]curriculum.University, error) {
	rows, err := r.q.Query(ctx, "SELECT id, name FROM universities ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query universities: %w", err)
	}
	defer rows.Close()

	var universities []curriculum.University
	for rows.Next() {
		var u curriculum.University
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, fmt.Errorf("failed to scan university: %w", err)
		}
		universities = append(universities, u)
	}

	return universities, rows.Err()
}

// ListCourses returns courses of a university.
func (r *CurriculumRepository) ListCourses(ctx context.Context, universityID int64) ([]curriculum.Course, error) {
	rows, err := r.q.Query(ctx,
		"SELECT id, university_id, name FROM courses WHERE university_id = $1 ORDER BY name ASC",
		universityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var courses []curriculum.Course
	for rows.Next() {
		var c curriculum.Course
		if err := rows.Scan(&c.ID, &c.UniversityID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}

	return courses, rows.Err()
}

// ListUnits returns units of a course ordered by year and name.
func (r *CurriculumRepository) ListUnits(ctx context.Context, courseID int64) ([]curriculum.Unit, error) {
	rows, err := r.q.Query(ctx,
		"SELECT id, course_id, name, year FROM units WHERE course_id = $1 ORDER BY year ASC, name ASC",
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	return r.scanUnits(rows)
}

// ListUnitsByYear returns units of a course for one study year.
func (r *CurriculumRepository) ListUnitsByYear(ctx context.Context, courseID int64, year int) ([]curriculum.Unit, error) {
	rows, err := r.q.Query(ctx,
		"SELECT id, course_id, name, year FROM units WHERE course_id = $1 AND year = $2 ORDER BY name ASC",
		courseID, year,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query units by year: %w", err)
	}
	defer rows.Close()

	return r.scanUnits(rows)
}

// ListTopics returns topics of a unit.
func (r *CurriculumRepository) ListTopics(ctx context.Context, unitID int64) ([]curriculum.Topic, error) {
	rows, err := r.q.Query(ctx,
		"SELECT id, unit_id, name FROM topics WHERE unit_id = $1 ORDER BY name ASC",
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	var topics []curriculum.Topic
	for rows.Next() {
		t, err := r.scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}

	return topics, rows.Err()
}

// GetTopic returns a topic by ID.
func (r *CurriculumRepository) GetTopic(ctx context.Context, id shared.TopicID) (curriculum.Topic, error) {
	var t curriculum.Topic
	var topicID int64

	err := r.q.QueryRow(ctx,
		"SELECT id, unit_id, name FROM topics WHERE id = $1",
		int64(id),
	).Scan(&topicID, &t.UnitID, &t.Name)

	if IsNoRows(err) {
		return curriculum.Topic{}, curriculum.ErrTopicNotFound
	}
	if err != nil {
		return curriculum.Topic{}, fmt.Errorf("failed to get topic: %w", err)
	}

	t.ID = shared.TopicID(topicID)
	return t, nil
}

// GetTopicPath returns the full university-to-topic path of a topic.
func (r *CurriculumRepository) GetTopicPath(ctx context.Context, id shared.TopicID) (curriculum.TopicPath, error) {
	query := `
		SELECT t.id, t.unit_id, t.name,
			   un.id, un.course_id, un.name, un.year,
			   c.id, c.university_id, c.name,
			   uv.id, uv.name
		FROM topics t
		JOIN units un ON un.id = t.unit_id
		JOIN courses c ON c.id = un.course_id
		JOIN universities uv ON uv.id = c.university_id
		WHERE t.id = $1
	`

	var p curriculum.TopicPath
	var topicID int64

	err := r.q.QueryRow(ctx, query, int64(id)).Scan(
		&topicID, &p.Topic.UnitID, &p.Topic.Name,
		&p.Unit.ID, &p.Unit.CourseID, &p.Unit.Name, &p.Unit.Year,
		&p.Course.ID, &p.Course.UniversityID, &p.Course.Name,
		&p.University.ID, &p.University.Name,
	)

	if IsNoRows(err) {
		return curriculum.TopicPath{}, curriculum.ErrTopicNotFound
	}
	if err != nil {
		return curriculum.TopicPath{}, fmt.Errorf("failed to get topic path: %w", err)
	}

	p.Topic.ID = shared.TopicID(topicID)
	return p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scope Queries
// ─────────────────────────────────────────────────────────────────────────────

// ListTopicIDsByCourse returns all topic IDs under one course.
func (r *CurriculumRepository) ListTopicIDsByCourse(ctx context.Context, universityID, courseID int64) ([]shared.TopicID, error) {
	query := `
		SELECT t.id
		FROM topics t
		JOIN units un ON un.id = t.unit_id
		JOIN courses c ON c.id = un.course_id
		WHERE c.university_id = $1 AND c.id = $2
		ORDER BY t.id ASC
	`

	return r.queryTopicIDs(ctx, query, universityID, courseID)
}

// ListTopicIDsByUniversity returns all topic IDs under one university.
func (r *CurriculumRepository) ListTopicIDsByUniversity(ctx context.Context, universityID int64) ([]shared.TopicID, error) {
	query := `
		SELECT t.id
		FROM topics t
		JOIN units un ON un.id = t.unit_id
		JOIN courses c ON c.id = un.course_id
		WHERE c.university_id = $1
		ORDER BY t.id ASC
	`

	return r.queryTopicIDs(ctx, query, universityID)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

func (r *CurriculumRepository) scanUnits(rows pgx.Rows) ([]curriculum.Unit, error) {
	var units []curriculum.Unit
	for rows.Next() {
		var u curriculum.Unit
		if err := rows.Scan(&u.ID, &u.CourseID, &u.Name, &u.Year); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *CurriculumRepository) scanTopic(row pgx.Row) (curriculum.Topic, error) {
	var t curriculum.Topic
	var topicID int64

	if err := row.Scan(&topicID, &t.UnitID, &t.Name); err != nil {
		return curriculum.Topic{}, fmt.Errorf("failed to scan topic: %w", err)
	}

	t.ID = shared.TopicID(topicID)
	return t, nil
}

func (r *CurriculumRepository) queryTopicIDs(ctx context.Context, query string, args ...interface{}) ([]shared.TopicID, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic ids: %w", err)
	}
	defer rows.Close()

	var ids []shared.TopicID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan topic id: %w", err)
		}
		ids = append(ids, shared.TopicID(id))
	}

	return ids, rows.Err()
}
