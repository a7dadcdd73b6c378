package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueAudit carries audit records so a prune backlog never delays them.
	QueueAudit = "audit"
	// QueueDefault carries maintenance jobs.
	QueueDefault = "default"
	// TaskAuditRecord persists one authorization audit event.
	TaskAuditRecord = "audit:record"
	// TaskAuditPrune removes audit events past the retention window.
	TaskAuditPrune = "audit:prune"
)

// AuditRecordPayload is the body of TaskAuditRecord.
type AuditRecordPayload struct {
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditPrunePayload is the body of TaskAuditPrune.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// Queues lists the queues the worker serves, highest priority first.
func Queues() []string {
	return []string{QueueAudit, QueueDefault}
}

// NewAuditRecordTask constructs an Asynq task on QueueAudit.
func NewAuditRecordTask(payload AuditRecordPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data, asynq.Queue(QueueAudit), asynq.MaxRetry(5)), nil
}

// NewAuditPruneTask constructs the retention task.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data, asynq.Queue(QueueDefault)), nil
}
