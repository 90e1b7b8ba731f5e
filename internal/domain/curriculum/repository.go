package curriculum

import (
	"context"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// Repository defines read access to the curriculum reference data.
// The data is seeded by migrations; there are no write operations.
type Repository interface {
	// ListUniversities returns all universities.
	ListUniversities(ctx context.Context) ([]University, error)

	// ListCourses returns courses of a university.
	ListCourses(ctx context.Context, universityID int64) ([]Course, error)

	// ListUnits returns units of a course ordered by year and name.
	ListUnits(ctx context.Context, courseID int64) ([]Unit, error)

	// ListUnitsByYear returns units of a course for one study year.
	ListUnitsByYear(ctx context.Context, courseID int64, year int) ([]Unit, error)

	// ListTopics returns topics of a unit.
	ListTopics(ctx context.Context, unitID int64) ([]Topic, error)

	// GetTopic returns a topic by ID.
	GetTopic(ctx context.Context, id shared.TopicID) (Topic, error)

	// GetTopicPath returns the full university-to-topic path of a topic.
	// Used for display and for review scope checks.
	GetTopicPath(ctx context.Context, id shared.TopicID) (TopicPath, error)

	// ListTopicIDsByCourse returns all topic IDs under one course.
	// Scoped review queues restrict batches to these IDs.
	ListTopicIDsByCourse(ctx context.Context, universityID, courseID int64) ([]shared.TopicID, error)

	// ListTopicIDsByUniversity returns all topic IDs under one university.
	ListTopicIDsByUniversity(ctx context.Context, universityID int64) ([]shared.TopicID, error)
}
