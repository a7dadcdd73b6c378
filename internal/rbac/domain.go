package rbac

import (
	"errors"
	"time"

	"github.com/snies/snies-admin/internal/authz"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicateRole is returned when a role name is already taken.
	ErrDuplicateRole = errors.New("rbac: role already exists")
	// ErrRootImmutable is returned when a caller tries to edit the root matrix.
	ErrRootImmutable = errors.New("rbac: the root role grants everything and cannot be edited")
)

// Role is a persisted role.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Authz returns the role as carried on the wire.
func (r Role) Authz() authz.Role {
	return authz.Role{ID: r.ID, Name: r.Name}
}

// RoleGrant pairs a role with its permission matrix.
type RoleGrant struct {
	Role   authz.Role
	Matrix authz.Matrix
}

// Principal describes the authenticated API caller.
type Principal struct {
	UserID int64
	Email  string
	Role   authz.Role
	Matrix authz.Matrix
}

// Snapshot returns the predicate view of the principal.
func (p Principal) Snapshot() authz.Snapshot {
	role := p.Role
	return authz.Snapshot{Role: &role, Matrix: p.Matrix}
}
