package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// testStart is the common time origin for command handler tests.
var testStart = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

// testClock is an adjustable clock to plug into handler configs.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testStart}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// testTopicID is the topic seeded into every test curriculum repository.
const testTopicID int64 = 7

func testTopic() curriculum.Topic {
	return curriculum.Topic{ID: shared.TopicID(testTopicID), UnitID: 1, Name: "Cardiac Physiology"}
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// Shared infrastructure for command handler tests. Repositories hand out
// entity copies the way pgx row mapping does, so mutations made inside an
// uncommitted unit of work never leak into the store.
// ══════════════════════════════════════════════════════════════════════════════

// seqIDs yields deterministic UUIDs in sequence.
type seqIDs struct {
	n int
}

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", g.n)
}

// eventSink collects published events.
type eventSink struct {
	events []shared.Event
}

func (s *eventSink) Publish(e shared.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) ofType(t shared.EventType) []shared.Event {
	var out []shared.Event
	for _, e := range s.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Admin repository
// ─────────────────────────────────────────────────────────────────────────────

type memAdmins struct {
	byID map[shared.TelegramID]*admin.Admin
}

func newMemAdmins(admins ...*admin.Admin) *memAdmins {
	r := &memAdmins{byID: make(map[shared.TelegramID]*admin.Admin)}
	for _, a := range admins {
		r.byID[a.TelegramID] = a
	}
	return r
}

func (r *memAdmins) Save(_ context.Context, a *admin.Admin) error {
	r.byID[a.TelegramID] = a
	return nil
}

func (r *memAdmins) Update(_ context.Context, a *admin.Admin) error {
	r.byID[a.TelegramID] = a
	return nil
}

func (r *memAdmins) GetByTelegramID(_ context.Context, id shared.TelegramID) (*admin.Admin, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func (r *memAdmins) ListByRole(_ context.Context, role shared.Role) ([]*admin.Admin, error) {
	var out []*admin.Admin
	for _, a := range r.byID {
		if a.Role == role && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAdmins) ListReviewers(_ context.Context) ([]*admin.Admin, error) {
	var out []*admin.Admin
	for _, a := range r.byID {
		if a.CanReview() {
			out = append(out, a)
		}
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Curriculum repository
// ─────────────────────────────────────────────────────────────────────────────

type memTopics struct {
	topics map[shared.TopicID]curriculum.Topic
	path   curriculum.TopicPath
}

func newMemTopics(topics ...curriculum.Topic) *memTopics {
	r := &memTopics{
		topics: make(map[shared.TopicID]curriculum.Topic),
		path: curriculum.TopicPath{
			Unit:       curriculum.Unit{ID: 1, CourseID: 1, Name: "Cardiovascular System", Year: 2},
			Course:     curriculum.Course{ID: 1, UniversityID: 1, Name: "MBChB"},
			University: curriculum.University{ID: 1, Name: "University of Nairobi"},
		},
	}
	for _, topic := range topics {
		r.topics[topic.ID] = topic
	}
	return r
}

func (r *memTopics) GetTopic(_ context.Context, id shared.TopicID) (curriculum.Topic, error) {
	topic, ok := r.topics[id]
	if !ok {
		return curriculum.Topic{}, shared.ErrNotFound
	}
	return topic, nil
}

func (r *memTopics) GetTopicPath(_ context.Context, id shared.TopicID) (curriculum.TopicPath, error) {
	topic, ok := r.topics[id]
	if !ok {
		return curriculum.TopicPath{}, shared.ErrNotFound
	}
	path := r.path
	path.Topic = topic
	return path, nil
}

func (r *memTopics) ListUniversities(_ context.Context) ([]curriculum.University, error) {
	return nil, nil
}

func (r *memTopics) ListCourses(_ context.Context, _ int64) ([]curriculum.Course, error) {
	return nil, nil
}

func (r *memTopics) ListUnits(_ context.Context, _ int64) ([]curriculum.Unit, error) {
	return nil, nil
}

func (r *memTopics) ListUnitsByYear(_ context.Context, _ int64, _ int) ([]curriculum.Unit, error) {
	return nil, nil
}

func (r *memTopics) ListTopics(_ context.Context, _ int64) ([]curriculum.Topic, error) {
	return nil, nil
}

func (r *memTopics) ListTopicIDsByCourse(_ context.Context, _, _ int64) ([]shared.TopicID, error) {
	return nil, nil
}

func (r *memTopics) ListTopicIDsByUniversity(_ context.Context, _ int64) ([]shared.TopicID, error) {
	return nil, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Store and unit of work
// ─────────────────────────────────────────────────────────────────────────────

// memStore keeps the state outside of transactions and implements
// batch.UnitOfWorkFactory.
type memStore struct {
	mu         sync.Mutex
	batches    map[shared.BatchID]*batch.UploadBatch
	candidates map[shared.CandidateID]*candidate.Candidate
	records    []*audit.Record
	commits    int
}

func newMemStore() *memStore {
	return &memStore{
		batches:    make(map[shared.BatchID]*batch.UploadBatch),
		candidates: make(map[shared.CandidateID]*candidate.Candidate),
	}
}

func (s *memStore) Begin(_ context.Context) (batch.UnitOfWork, error) {
	return &memUnitOfWork{store: s}, nil
}

func (s *memStore) addBatch(b *batch.UploadBatch) {
	s.batches[b.ID] = b.Clone()
}

func (s *memStore) addCandidate(c *candidate.Candidate) {
	s.candidates[c.ID] = c.Clone()
}

func (s *memStore) batchByID(id shared.BatchID) *batch.UploadBatch {
	return s.batches[id].Clone()
}

func (s *memStore) candidateByID(id shared.CandidateID) *candidate.Candidate {
	return s.candidates[id].Clone()
}

func (s *memStore) onlyBatch() *batch.UploadBatch {
	for _, b := range s.batches {
		return b.Clone()
	}
	return nil
}

func (s *memStore) recordsByAction(action audit.Action) []*audit.Record {
	var out []*audit.Record
	for _, r := range s.records {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

type memUnitOfWork struct {
	store *memStore
	done  bool
}

func (u *memUnitOfWork) Batches() batch.Repository {
	return &memBatchRepo{store: u.store}
}

func (u *memUnitOfWork) Candidates() candidate.Repository {
	return &memCandidateRepo{store: u.store}
}

func (u *memUnitOfWork) Audit() audit.Repository {
	return &memAuditRepo{store: u.store}
}

func (u *memUnitOfWork) Commit(_ context.Context) error {
	u.done = true
	u.store.commits++
	return nil
}

func (u *memUnitOfWork) Rollback(_ context.Context) error {
	u.done = true
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch repository
// ─────────────────────────────────────────────────────────────────────────────

type memBatchRepo struct {
	store *memStore
}

func (r *memBatchRepo) Save(_ context.Context, b *batch.UploadBatch) error {
	if _, exists := r.store.batches[b.ID]; exists {
		return batch.ErrBatchAlreadyExists
	}
	r.store.batches[b.ID] = b.Clone()
	return nil
}

func (r *memBatchRepo) Update(_ context.Context, b *batch.UploadBatch) error {
	if _, exists := r.store.batches[b.ID]; !exists {
		return batch.ErrBatchNotFound
	}
	r.store.batches[b.ID] = b.Clone()
	return nil
}

func (r *memBatchRepo) GetByID(_ context.Context, id shared.BatchID) (*batch.UploadBatch, error) {
	b, ok := r.store.batches[id]
	if !ok {
		return nil, batch.ErrBatchNotFound
	}
	return b.Clone(), nil
}

func (r *memBatchRepo) GetByIDForUpdate(ctx context.Context, id shared.BatchID) (*batch.UploadBatch, error) {
	return r.GetByID(ctx, id)
}

func (r *memBatchRepo) ListReviewQueue(_ context.Context, _ shared.TelegramID, _ []shared.TopicID, _ time.Time, _ time.Duration, _, _ int) ([]*batch.UploadBatch, error) {
	return nil, nil
}

func (r *memBatchRepo) CountReviewQueue(_ context.Context, _ shared.TelegramID, _ []shared.TopicID, _ time.Time, _ time.Duration) (int, error) {
	return 0, nil
}

func (r *memBatchRepo) ListByUploader(_ context.Context, _ shared.TelegramID, _, _ int) ([]*batch.UploadBatch, error) {
	return nil, nil
}

func (r *memBatchRepo) ListCompletedBetween(_ context.Context, _, _ time.Time) ([]*batch.UploadBatch, error) {
	return nil, nil
}

func (r *memBatchRepo) CountByStatus(_ context.Context) (map[batch.Status]int, error) {
	return nil, nil
}

func (r *memBatchRepo) CountByUploader(_ context.Context, _ shared.TelegramID) (map[batch.Status]int, error) {
	return nil, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Candidate repository
// ─────────────────────────────────────────────────────────────────────────────

type memCandidateRepo struct {
	store *memStore
}

func (r *memCandidateRepo) Save(_ context.Context, c *candidate.Candidate) error {
	r.store.candidates[c.ID] = c.Clone()
	return nil
}

func (r *memCandidateRepo) SaveAll(ctx context.Context, candidates []*candidate.Candidate) error {
	for _, c := range candidates {
		if err := r.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *memCandidateRepo) Update(_ context.Context, c *candidate.Candidate) error {
	if _, exists := r.store.candidates[c.ID]; !exists {
		return shared.ErrNotFound
	}
	r.store.candidates[c.ID] = c.Clone()
	return nil
}

func (r *memCandidateRepo) GetByID(_ context.Context, id shared.CandidateID) (*candidate.Candidate, error) {
	c, ok := r.store.candidates[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return c.Clone(), nil
}

// DecidePending mirrors the conditional UPDATE of the real repository:
// the transition runs only from pending, the loser gets false without
// an error.
func (r *memCandidateRepo) DecidePending(_ context.Context, id shared.CandidateID, state candidate.State, adminID shared.TelegramID, decidedAt time.Time) (bool, error) {
	c, ok := r.store.candidates[id]
	if !ok {
		return false, shared.ErrNotFound
	}
	if c.State != candidate.StatePending {
		return false, nil
	}

	c.State = state
	c.ReviewedBy = adminID
	c.DecidedAt = decidedAt
	c.UpdatedAt = decidedAt
	return true, nil
}

func (r *memCandidateRepo) ListByBatch(_ context.Context, batchID shared.BatchID) ([]*candidate.Candidate, error) {
	var out []*candidate.Candidate
	for _, c := range r.store.candidates {
		if c.BatchID == batchID {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (r *memCandidateRepo) ListPendingByBatch(_ context.Context, _ shared.BatchID, _, _ int) ([]*candidate.Candidate, error) {
	return nil, nil
}

func (r *memCandidateRepo) CountByState(_ context.Context, _ shared.BatchID) (map[candidate.State]int, error) {
	return nil, nil
}

func (r *memCandidateRepo) ListPublished(_ context.Context, _ shared.TopicID, _ candidate.Difficulty, _, _ int) ([]*candidate.Candidate, error) {
	return nil, nil
}

func (r *memCandidateRepo) CountPublished(_ context.Context, _ shared.TopicID) (int, error) {
	return 0, nil
}

func (r *memCandidateRepo) AggregateContributors(_ context.Context, _ int) ([]candidate.ContributorAggregate, error) {
	return nil, nil
}

func (r *memCandidateRepo) CountDecidedBetween(_ context.Context, _, _ time.Time) (int, int, error) {
	return 0, 0, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Audit repository
// ─────────────────────────────────────────────────────────────────────────────

type memAuditRepo struct {
	store *memStore
}

func (r *memAuditRepo) Save(_ context.Context, rec *audit.Record) error {
	r.store.records = append(r.store.records, rec)
	return nil
}

func (r *memAuditRepo) SaveAll(_ context.Context, records []*audit.Record) error {
	r.store.records = append(r.store.records, records...)
	return nil
}

func (r *memAuditRepo) ListByTarget(_ context.Context, kind audit.TargetKind, targetID string, _, _ int) ([]*audit.Record, error) {
	var out []*audit.Record
	for _, rec := range r.store.records {
		if rec.TargetKind == kind && rec.TargetID == targetID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memAuditRepo) CountByTarget(ctx context.Context, kind audit.TargetKind, targetID string) (int, error) {
	records, err := r.ListByTarget(ctx, kind, targetID, 0, 0)
	return len(records), err
}

func (r *memAuditRepo) ListByActor(_ context.Context, _ shared.TelegramID, _ shared.TimeRange, _, _ int) ([]*audit.Record, error) {
	return nil, nil
}

func (r *memAuditRepo) ListByAction(_ context.Context, _ audit.Action, _ shared.TimeRange, _, _ int) ([]*audit.Record, error) {
	return nil, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Entity helpers
// ─────────────────────────────────────────────────────────────────────────────

func activeAdmin(id int64) *admin.Admin {
	return &admin.Admin{
		TelegramID: shared.TelegramID(id),
		Username:   fmt.Sprintf("admin%d", id),
		FirstName:  "Test",
		Role:       shared.RoleAdmin,
		IsActive:   true,
		PromotedAt: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func scopedAdmin(id, universityID, courseID int64) *admin.Admin {
	a := activeAdmin(id)
	a.Scopes = []admin.ReviewScope{{UniversityID: universityID, CourseID: courseID}}
	return a
}

// seedDraftBatch stores a draft batch. With pending > 0 the ingest
// counters are applied first, as after a successful document intake.
func seedDraftBatch(t *testing.T, store *memStore, ids *seqIDs, uploaderID, topicID int64, pending int) *batch.UploadBatch {
	t.Helper()

	b, err := batch.NewBatch(batch.NewBatchParams{
		ID:         shared.BatchID(ids.NewID()),
		UploaderID: shared.TelegramID(uploaderID),
		TopicID:    shared.TopicID(topicID),
		SourceKind: batch.SourceText,
	})
	require.NoError(t, err)

	if pending > 0 {
		_, err = b.SetIngestResult(pending, 0, false, testStart)
		require.NoError(t, err)
	}

	store.addBatch(b)
	return b
}

// lockBatch claims the review lease directly on the stored batch, as if
// the admin had acquired it at testStart.
func lockBatch(t *testing.T, store *memStore, id shared.BatchID, adminID int64) {
	t.Helper()

	b := store.batchByID(id)
	require.NotNil(t, b)

	_, _, err := b.AcquireLock(shared.TelegramID(adminID), testStart, batch.DefaultLeaseTTL)
	require.NoError(t, err)

	store.addBatch(b)
}

func seedPendingCandidate(t *testing.T, store *memStore, ids *seqIDs, b *batch.UploadBatch) shared.CandidateID {
	t.Helper()

	id, err := shared.NewCandidateID(ids.NewID())
	require.NoError(t, err)

	c, err := candidate.NewCandidate(candidate.NewCandidateParams{
		ID:           id,
		BatchID:      b.ID,
		TopicID:      b.TopicID,
		Text:         "Which chamber of the heart pumps blood into the aorta?",
		Options:      []string{"Left ventricle", "Right ventricle", "Left atrium", "Right atrium"},
		CorrectIndex: 0,
		Confidence:   0.9,
	})
	require.NoError(t, err)

	store.addCandidate(c)
	return id
}
