package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/snies/snies-admin/internal/jobs"
	"github.com/snies/snies-admin/jobs"
)

type stubRepo struct {
	mu          sync.Mutex
	inserted    []Entry
	rows        []Entry
	total       int
	lastFilters Filters
	lastLimit   int
	lastOffset  int
	prunedAt    time.Time
	err         error
}

func (s *stubRepo) Insert(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, entry)
	return nil
}

func (s *stubRepo) List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, int, error) {
	s.lastFilters, s.lastLimit, s.lastOffset = filters, limit, offset
	return s.rows, s.total, s.err
}

func (s *stubRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.prunedAt = before
	return 4, s.err
}

type stubQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *stubQueue) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func TestServiceListPaging(t *testing.T) {
	repo := &stubRepo{rows: []Entry{{ID: 3, Action: ActionDenied}}, total: 45}
	svc := NewService(repo)
	result, err := svc.List(context.Background(), Filters{Action: ActionDenied, Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, repo.lastLimit)
	assert.Equal(t, 20, repo.lastOffset)
	assert.Equal(t, ActionDenied, repo.lastFilters.Action)
	assert.Equal(t, 5, result.Pagination.TotalPages)
	assert.Len(t, result.Rows, 1)
}

func TestServiceListEmptyIsNotNil(t *testing.T) {
	svc := NewService(&stubRepo{})
	result, err := svc.List(context.Background(), Filters{})
	require.NoError(t, err)
	assert.NotNil(t, result.Rows)
	assert.Equal(t, 1, result.Pagination.Page)
	assert.Equal(t, 20, result.Pagination.PerPage)
}

func TestServiceListWrapsErrors(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewService(&stubRepo{err: boom}).List(context.Background(), Filters{})
	assert.ErrorIs(t, err, boom)
}

func TestQueueRecorderEnqueuesTask(t *testing.T) {
	queue := &stubQueue{}
	rec := NewQueueRecorder(queue)
	err := rec.Record(context.Background(), Entry{
		ActorID:  9,
		Action:   ActionDenied,
		Entity:   "module",
		EntityID: "courses",
		Meta:     map[string]any{"action": "delete"},
	})
	require.NoError(t, err)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, jobs.TaskAuditRecord, queue.tasks[0].Type())

	var payload jobs.AuditRecordPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, int64(9), payload.ActorID)
	assert.Equal(t, "delete", payload.Meta["action"])
	assert.NotEmpty(t, payload.Meta["event_id"])
	assert.False(t, payload.At.IsZero())
}

func TestQueueRecorderPropagatesQueueErrors(t *testing.T) {
	rec := NewQueueRecorder(&stubQueue{err: errors.New("redis down")})
	err := rec.Record(context.Background(), Entry{Action: ActionDenied, Entity: "module", EntityID: "courses"})
	assert.Error(t, err)
}

func TestRecordJobWritesEntry(t *testing.T) {
	repo := &stubRepo{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewRecordJob(repo, nil, metrics)

	task, err := jobs.NewAuditRecordTask(jobs.AuditRecordPayload{ActorID: 1, Action: ActionMatrixReplaced, Entity: "role", EntityID: "2"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "2", repo.inserted[0].EntityID)
}

func TestRecordJobSkipsBadPayload(t *testing.T) {
	job := NewRecordJob(&stubRepo{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskAuditRecord, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPruneJobUsesRetention(t *testing.T) {
	repo := &stubRepo{}
	job := NewPruneJob(repo, nil, nil)
	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := jobs.NewAuditPruneTask(30)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now.AddDate(0, 0, -30), repo.prunedAt)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(jobs.TaskAuditPrune, nil)))
	assert.Equal(t, now.AddDate(0, 0, -DefaultRetentionDays), repo.prunedAt)
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(Filters{ActorID: 4, Action: " authz.denied "})
	assert.Equal(t, " WHERE actor_id = $1 AND action = $2", where)
	assert.Equal(t, []any{int64(4), "authz.denied"}, args)

	where, args = filterClause(Filters{})
	assert.Empty(t, where)
	assert.Nil(t, args)
}
