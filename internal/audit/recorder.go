package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/snies/snies-admin/jobs"
)

// Recorder accepts audit entries for persistence.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Enqueuer is satisfied by *jobs.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueRecorder hands entries to the worker through asynq.
type QueueRecorder struct {
	queue Enqueuer
	now   func() time.Time
}

// NewQueueRecorder builds a QueueRecorder.
func NewQueueRecorder(queue Enqueuer) *QueueRecorder {
	return &QueueRecorder{queue: queue, now: time.Now}
}

// Record implements Recorder. Every entry gets an event_id so retried tasks
// can be told apart from repeated events.
func (r *QueueRecorder) Record(ctx context.Context, entry Entry) error {
	if r == nil || r.queue == nil {
		return nil
	}
	meta := make(map[string]any, len(entry.Meta)+1)
	for k, v := range entry.Meta {
		meta[k] = v
	}
	eventID := uuid.NewString()
	meta["event_id"] = eventID
	at := entry.At
	if at.IsZero() {
		at = r.now().UTC()
	}
	task, err := jobs.NewAuditRecordTask(jobs.AuditRecordPayload{
		ActorID:  entry.ActorID,
		Action:   entry.Action,
		Entity:   entry.Entity,
		EntityID: entry.EntityID,
		Meta:     meta,
		At:       at,
	})
	if err != nil {
		return fmt.Errorf("audit: build task: %w", err)
	}
	if _, err := r.queue.Enqueue(ctx, task, asynq.TaskID(eventID)); err != nil {
		return fmt.Errorf("audit: enqueue: %w", err)
	}
	return nil
}
