package query

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// queueTestStart is the common time origin for review queue tests.
var queueTestStart = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// The batch repository evaluates queue visibility the way the SQL query
// does: batches held by the caller plus batches without an unexpired
// foreign lease, ordered oldest first.
// ══════════════════════════════════════════════════════════════════════════════

type queueAdmins struct {
	byID map[shared.TelegramID]*admin.Admin
}

func newQueueAdmins(admins ...*admin.Admin) *queueAdmins {
	r := &queueAdmins{byID: make(map[shared.TelegramID]*admin.Admin)}
	for _, a := range admins {
		r.byID[a.TelegramID] = a
	}
	return r
}

func (r *queueAdmins) Save(_ context.Context, a *admin.Admin) error {
	r.byID[a.TelegramID] = a
	return nil
}

func (r *queueAdmins) Update(_ context.Context, a *admin.Admin) error {
	r.byID[a.TelegramID] = a
	return nil
}

func (r *queueAdmins) GetByTelegramID(_ context.Context, id shared.TelegramID) (*admin.Admin, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func (r *queueAdmins) ListByRole(_ context.Context, _ shared.Role) ([]*admin.Admin, error) {
	return nil, nil
}

func (r *queueAdmins) ListReviewers(_ context.Context) ([]*admin.Admin, error) {
	return nil, nil
}

// queueTopics resolves review scopes to fixed topic sets.
type queueTopics struct {
	topics   map[shared.TopicID]curriculum.Topic
	byCourse map[string][]shared.TopicID
}

func newQueueTopics() *queueTopics {
	return &queueTopics{
		topics:   make(map[shared.TopicID]curriculum.Topic),
		byCourse: make(map[string][]shared.TopicID),
	}
}

func (r *queueTopics) addCourseTopics(universityID, courseID int64, ids ...shared.TopicID) {
	key := fmt.Sprintf("%d/%d", universityID, courseID)
	r.byCourse[key] = append(r.byCourse[key], ids...)
	for _, id := range ids {
		r.topics[id] = curriculum.Topic{ID: id, UnitID: 1, Name: fmt.Sprintf("Topic %d", id)}
	}
}

func (r *queueTopics) GetTopic(_ context.Context, id shared.TopicID) (curriculum.Topic, error) {
	topic, ok := r.topics[id]
	if !ok {
		return curriculum.Topic{}, shared.ErrNotFound
	}
	return topic, nil
}

func (r *queueTopics) GetTopicPath(_ context.Context, id shared.TopicID) (curriculum.TopicPath, error) {
	topic, ok := r.topics[id]
	if !ok {
		return curriculum.TopicPath{}, shared.ErrNotFound
	}
	return curriculum.TopicPath{
		Topic:      topic,
		Unit:       curriculum.Unit{ID: 1, CourseID: 1, Name: "Cardiovascular System", Year: 2},
		Course:     curriculum.Course{ID: 1, UniversityID: 1, Name: "MBChB"},
		University: curriculum.University{ID: 1, Name: "University of Nairobi"},
	}, nil
}

func (r *queueTopics) ListUniversities(_ context.Context) ([]curriculum.University, error) {
	return nil, nil
}

func (r *queueTopics) ListCourses(_ context.Context, _ int64) ([]curriculum.Course, error) {
	return nil, nil
}

func (r *queueTopics) ListUnits(_ context.Context, _ int64) ([]curriculum.Unit, error) {
	return nil, nil
}

func (r *queueTopics) ListUnitsByYear(_ context.Context, _ int64, _ int) ([]curriculum.Unit, error) {
	return nil, nil
}

func (r *queueTopics) ListTopics(_ context.Context, _ int64) ([]curriculum.Topic, error) {
	return nil, nil
}

func (r *queueTopics) ListTopicIDsByCourse(_ context.Context, universityID, courseID int64) ([]shared.TopicID, error) {
	return r.byCourse[fmt.Sprintf("%d/%d", universityID, courseID)], nil
}

func (r *queueTopics) ListTopicIDsByUniversity(_ context.Context, universityID int64) ([]shared.TopicID, error) {
	var out []shared.TopicID
	for key, ids := range r.byCourse {
		var u, c int64
		if _, err := fmt.Sscanf(key, "%d/%d", &u, &c); err == nil && u == universityID {
			out = append(out, ids...)
		}
	}
	return out, nil
}

// queueBatches filters and orders like the production SQL.
type queueBatches struct {
	batches []*batch.UploadBatch
}

func (r *queueBatches) visible(adminID shared.TelegramID, topicIDs []shared.TopicID, now time.Time, ttl time.Duration) []*batch.UploadBatch {
	var out []*batch.UploadBatch
	for _, b := range r.batches {
		if !b.IsVisibleTo(adminID, now, ttl) {
			continue
		}
		if topicIDs != nil && !containsTopic(topicIDs, b.TopicID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func containsTopic(ids []shared.TopicID, id shared.TopicID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (r *queueBatches) Save(_ context.Context, b *batch.UploadBatch) error {
	r.batches = append(r.batches, b.Clone())
	return nil
}

func (r *queueBatches) Update(_ context.Context, b *batch.UploadBatch) error {
	for i, existing := range r.batches {
		if existing.ID == b.ID {
			r.batches[i] = b.Clone()
			return nil
		}
	}
	return batch.ErrBatchNotFound
}

func (r *queueBatches) GetByID(_ context.Context, id shared.BatchID) (*batch.UploadBatch, error) {
	for _, b := range r.batches {
		if b.ID == id {
			return b.Clone(), nil
		}
	}
	return nil, batch.ErrBatchNotFound
}

func (r *queueBatches) GetByIDForUpdate(ctx context.Context, id shared.BatchID) (*batch.UploadBatch, error) {
	return r.GetByID(ctx, id)
}

func (r *queueBatches) ListReviewQueue(_ context.Context, adminID shared.TelegramID, topicIDs []shared.TopicID, now time.Time, ttl time.Duration, limit, offset int) ([]*batch.UploadBatch, error) {
	visible := r.visible(adminID, topicIDs, now, ttl)
	if offset >= len(visible) {
		return nil, nil
	}
	end := offset + limit
	if end > len(visible) {
		end = len(visible)
	}

	out := make([]*batch.UploadBatch, 0, end-offset)
	for _, b := range visible[offset:end] {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (r *queueBatches) CountReviewQueue(_ context.Context, adminID shared.TelegramID, topicIDs []shared.TopicID, now time.Time, ttl time.Duration) (int, error) {
	return len(r.visible(adminID, topicIDs, now, ttl)), nil
}

func (r *queueBatches) ListByUploader(_ context.Context, _ shared.TelegramID, _, _ int) ([]*batch.UploadBatch, error) {
	return nil, nil
}

func (r *queueBatches) ListCompletedBetween(_ context.Context, _, _ time.Time) ([]*batch.UploadBatch, error) {
	return nil, nil
}

func (r *queueBatches) CountByStatus(_ context.Context) (map[batch.Status]int, error) {
	return nil, nil
}

func (r *queueBatches) CountByUploader(_ context.Context, _ shared.TelegramID) (map[batch.Status]int, error) {
	return nil, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func queueAdmin(id int64, scopes ...admin.ReviewScope) *admin.Admin {
	return &admin.Admin{
		TelegramID: shared.TelegramID(id),
		Username:   fmt.Sprintf("reviewer%d", id),
		Role:       shared.RoleAdmin,
		IsActive:   true,
		Scopes:     scopes,
		PromotedAt: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

// seedQueueBatch stores a pending draft batch created at the given offset
// from the test origin.
func seedQueueBatch(t *testing.T, repo *queueBatches, n int, topicID int64, createdOffset time.Duration) *batch.UploadBatch {
	t.Helper()

	b, err := batch.NewBatch(batch.NewBatchParams{
		ID:         shared.BatchID(fmt.Sprintf("00000000-0000-4000-8000-%012d", n)),
		UploaderID: shared.TelegramID(900),
		TopicID:    shared.TopicID(topicID),
		SourceKind: batch.SourceText,
	})
	require.NoError(t, err)

	_, err = b.SetIngestResult(3, 0, false, queueTestStart)
	require.NoError(t, err)

	b.CreatedAt = queueTestStart.Add(createdOffset)
	require.NoError(t, repo.Save(context.Background(), b))
	return b
}

// lockQueueBatch claims the lease on a stored batch at the given moment.
func lockQueueBatch(t *testing.T, repo *queueBatches, id shared.BatchID, adminID int64, at time.Time) {
	t.Helper()

	b, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)

	_, _, err = b.AcquireLock(shared.TelegramID(adminID), at, batch.DefaultLeaseTTL)
	require.NoError(t, err)
	require.NoError(t, repo.Update(context.Background(), b))
}

// fakeQueueCache stores snapshots verbatim, keyed the way the Redis
// implementation keys them.
type fakeQueueCache struct {
	entries map[string]*ListReviewQueueResult
	gets    int
	hits    int
	sets    int
}

func newFakeQueueCache() *fakeQueueCache {
	return &fakeQueueCache{entries: make(map[string]*ListReviewQueueResult)}
}

func (c *fakeQueueCache) key(adminID int64, page, pageSize int) string {
	return fmt.Sprintf("%d:%d:%d", adminID, page, pageSize)
}

func (c *fakeQueueCache) GetQueue(_ context.Context, adminID int64, page, pageSize int, dest interface{}) (bool, error) {
	c.gets++
	cached, ok := c.entries[c.key(adminID, page, pageSize)]
	if !ok {
		return false, nil
	}
	c.hits++
	*dest.(*ListReviewQueueResult) = *cached
	return true, nil
}

func (c *fakeQueueCache) SetQueue(_ context.Context, adminID int64, page, pageSize int, snapshot interface{}) error {
	c.sets++
	copied := *snapshot.(*ListReviewQueueResult)
	c.entries[c.key(adminID, page, pageSize)] = &copied
	return nil
}

func newQueueHandler(batches *queueBatches, admins *queueAdmins, topics *queueTopics, now *time.Time) *ListReviewQueueHandler {
	return NewListReviewQueueHandler(batches, admins, topics, nil, ListReviewQueueHandlerConfig{
		Clock: func() time.Time { return *now },
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestListReviewQueue_OldestFirst(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	topics.addCourseTopics(1, 1, 7)
	admins := newQueueAdmins(queueAdmin(100))

	// Seeded newest first; the queue must come back oldest first.
	newest := seedQueueBatch(t, batches, 3, 7, 2*time.Hour)
	oldest := seedQueueBatch(t, batches, 1, 7, 0)
	middle := seedQueueBatch(t, batches, 2, 7, time.Hour)

	now := queueTestStart.Add(3 * time.Hour)
	h := newQueueHandler(batches, admins, topics, &now)

	result, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, oldest.ID.String(), result.Entries[0].BatchID)
	assert.Equal(t, middle.ID.String(), result.Entries[1].BatchID)
	assert.Equal(t, newest.ID.String(), result.Entries[2].BatchID)
	assert.Equal(t, 3, result.TotalCount)
	assert.False(t, result.HasMore)
}

func TestListReviewQueue_ForeignLeaseHidesBatchUntilExpiry(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	topics.addCourseTopics(1, 1, 7)
	admins := newQueueAdmins(queueAdmin(100), queueAdmin(200))

	open := seedQueueBatch(t, batches, 1, 7, 0)
	held := seedQueueBatch(t, batches, 2, 7, time.Minute)
	lockQueueBatch(t, batches, held.ID, 200, queueTestStart.Add(2*time.Minute))

	// Before the TTL elapses the held batch belongs to admin 200 alone.
	now := queueTestStart.Add(5 * time.Minute)
	h := newQueueHandler(batches, admins, topics, &now)

	result, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, open.ID.String(), result.Entries[0].BatchID)

	holderResult, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 200})
	require.NoError(t, err)
	require.Len(t, holderResult.Entries, 2)
	for _, entry := range holderResult.Entries {
		if entry.BatchID == held.ID.String() {
			assert.True(t, entry.HeldByMe)
			require.NotNil(t, entry.LockExpiresAt)
			assert.Equal(t, queueTestStart.Add(2*time.Minute).Add(batch.DefaultLeaseTTL), *entry.LockExpiresAt)
		}
	}

	// Once the lease expires the batch is up for grabs again.
	now = queueTestStart.Add(2*time.Minute + batch.DefaultLeaseTTL)

	result, err = h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)
	assert.Len(t, result.Entries, 2)
}

func TestListReviewQueue_ScopeRestrictsTopics(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	topics.addCourseTopics(1, 1, 7, 8)
	topics.addCourseTopics(1, 2, 21)
	scoped := queueAdmin(100, admin.ReviewScope{UniversityID: 1, CourseID: 1})
	unrestricted := queueAdmin(200)
	admins := newQueueAdmins(scoped, unrestricted)

	inScope := seedQueueBatch(t, batches, 1, 7, 0)
	seedQueueBatch(t, batches, 2, 21, time.Minute)

	now := queueTestStart.Add(time.Hour)
	h := newQueueHandler(batches, admins, topics, &now)

	result, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, inScope.ID.String(), result.Entries[0].BatchID)

	// An admin without scopes sees the whole queue.
	all, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 200})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 2)
}

func TestListReviewQueue_TerminalBatchesExcluded(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	topics.addCourseTopics(1, 1, 7)
	admins := newQueueAdmins(queueAdmin(100))

	live := seedQueueBatch(t, batches, 1, 7, 0)
	gone := seedQueueBatch(t, batches, 2, 7, time.Minute)

	abandoned, err := batches.GetByID(context.Background(), gone.ID)
	require.NoError(t, err)
	require.NoError(t, abandoned.Abandon(queueTestStart.Add(2*time.Minute)))
	require.NoError(t, batches.Update(context.Background(), abandoned))

	now := queueTestStart.Add(time.Hour)
	h := newQueueHandler(batches, admins, topics, &now)

	result, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, live.ID.String(), result.Entries[0].BatchID)
}

func TestListReviewQueue_Pagination(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	topics.addCourseTopics(1, 1, 7)
	admins := newQueueAdmins(queueAdmin(100))

	for i := 0; i < 5; i++ {
		seedQueueBatch(t, batches, i+1, 7, time.Duration(i)*time.Minute)
	}

	now := queueTestStart.Add(time.Hour)
	h := newQueueHandler(batches, admins, topics, &now)

	first, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, first.Entries, 2)
	assert.Equal(t, 5, first.TotalCount)
	assert.True(t, first.HasMore)

	last, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100, Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, last.Entries, 1)
	assert.False(t, last.HasMore)
}

func TestListReviewQueue_RequiresReviewer(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	student := queueAdmin(100)
	student.Role = shared.RoleStudent
	admins := newQueueAdmins(student)

	now := queueTestStart
	h := newQueueHandler(batches, admins, topics, &now)

	_, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 999})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestListReviewQueue_SnapshotCache(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	topics.addCourseTopics(1, 1, 7)
	admins := newQueueAdmins(queueAdmin(100))

	seedQueueBatch(t, batches, 1, 7, 0)

	now := queueTestStart.Add(time.Hour)
	cache := newFakeQueueCache()
	h := NewListReviewQueueHandler(batches, admins, topics, cache, ListReviewQueueHandlerConfig{
		Clock: func() time.Time { return now },
	})

	// Первый запрос собирается из репозитория и кладётся в кеш.
	first, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, cache.sets)

	// Повторный запрос отвечает снимком, не трогая репозиторий заново.
	second, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, first.TotalCount, second.TotalCount)
}

func TestListReviewQueue_CacheDoesNotBypassAuthorization(t *testing.T) {
	batches := &queueBatches{}
	topics := newQueueTopics()
	topics.addCourseTopics(1, 1, 7)

	reviewer := queueAdmin(100)
	student := queueAdmin(200)
	student.Role = shared.RoleStudent
	admins := newQueueAdmins(reviewer, student)

	seedQueueBatch(t, batches, 1, 7, 0)

	now := queueTestStart.Add(time.Hour)
	cache := newFakeQueueCache()
	h := NewListReviewQueueHandler(batches, admins, topics, cache, ListReviewQueueHandlerConfig{
		Clock: func() time.Time { return now },
	})

	_, err := h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 100})
	require.NoError(t, err)
	getsAfterReviewer := cache.gets

	// Отказ в доступе происходит до обращения к кешу: число чтений
	// кеша после запроса студента не меняется.
	_, err = h.Handle(context.Background(), ListReviewQueueQuery{AdminID: 200})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, getsAfterReviewer, cache.gets)
}
