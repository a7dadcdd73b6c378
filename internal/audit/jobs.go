package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/snies/snies-admin/internal/jobs"
	"github.com/snies/snies-admin/jobs"
)

// DefaultRetentionDays is used when a prune task carries no retention.
const DefaultRetentionDays = 180

// RecordJob writes queued entries into the repository.
type RecordJob struct {
	repo    Repository
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewRecordJob wires the record handler.
func NewRecordJob(repo Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecordJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordJob{repo: repo, logger: logger, metrics: metrics}
}

// Handle processes jobs.TaskAuditRecord tasks.
func (j *RecordJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.repo == nil {
		return errors.New("audit record: handler not configured")
	}
	var payload jobs.AuditRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Warn("audit record: bad payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(jobs.TaskAuditRecord)
	defer func() { err = tracker.End(err) }()

	entry := Entry{
		ActorID:  payload.ActorID,
		Action:   payload.Action,
		Entity:   payload.Entity,
		EntityID: payload.EntityID,
		Meta:     payload.Meta,
		At:       payload.At,
	}
	if err := j.repo.Insert(ctx, entry); err != nil {
		return err
	}
	j.metrics.AddRows(jobs.TaskAuditRecord, 1)
	return nil
}

// PruneJob enforces audit retention.
type PruneJob struct {
	repo    Repository
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPruneJob wires the prune handler.
func NewPruneJob(repo Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *PruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneJob{repo: repo, logger: logger, metrics: metrics, clock: func() time.Time { return time.Now().UTC() }}
}

// Handle processes jobs.TaskAuditPrune tasks.
func (j *PruneJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.repo == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload jobs.AuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = DefaultRetentionDays
	}
	tracker := j.metrics.Track(jobs.TaskAuditPrune)
	defer func() { err = tracker.End(err) }()

	removed, err := j.repo.Prune(ctx, j.clock().AddDate(0, 0, -days))
	if err != nil {
		return err
	}
	j.metrics.AddRows(jobs.TaskAuditPrune, removed)
	j.logger.Info("audit retention applied", slog.Int("retention_days", days), slog.Int64("removed", removed))
	return nil
}
