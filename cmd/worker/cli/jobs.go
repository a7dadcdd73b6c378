package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hibiken/asynq"

	"github.com/snies/snies-admin/jobs"
)

// JobsCLI wraps manual management helpers for the audit queue.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name. Only jobs without caller
// supplied payload can be triggered by hand.
func (c *JobsCLI) Trigger(ctx context.Context, name string, retentionDays int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskAuditPrune:
		task, err = jobs.NewAuditPruneTask(retentionDays)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports every queue the worker serves. A queue that never
// received a task reports zero counts.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	known, err := c.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("jobs cli: list queues: %w", err)
	}
	out := make([]QueueStats, 0, len(jobs.Queues()))
	for _, queue := range jobs.Queues() {
		stats := QueueStats{Queue: queue}
		if slices.Contains(known, queue) {
			info, err := c.inspector.GetQueueInfo(queue)
			if err != nil {
				return nil, fmt.Errorf("jobs cli: inspect %s: %w", queue, err)
			}
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// String renders stats on one line.
func (s QueueStats) String() string {
	return fmt.Sprintf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d",
		s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
}
