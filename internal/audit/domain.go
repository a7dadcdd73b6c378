// Package audit records authorization events and lists them back.
package audit

import (
	"time"

	"github.com/snies/snies-admin/internal/shared"
)

// Actions recorded by the API.
const (
	ActionDenied         = "authz.denied"
	ActionMatrixReplaced = "authz.matrix_replaced"
)

// Entry is one row of audit_logs.
type Entry struct {
	ID       int64          `json:"id"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Filters narrow an audit listing.
type Filters struct {
	ActorID  int64
	Action   string
	Entity   string
	Page     int
	PageSize int
}

// Result is one page of entries.
type Result struct {
	Rows       []Entry           `json:"rows"`
	Pagination shared.Pagination `json:"pagination"`
}
