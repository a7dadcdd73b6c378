package authz

// RootRole is the role name that bypasses the permission matrix.
const RootRole = "root"

// Module names a feature area of the dashboard.
type Module string

// Known modules. The set is closed: anything else is not a Module.
const (
	ModuleCourses             Module = "courses"
	ModuleContinuingEducation Module = "continuing_education"
	ModuleWellbeing           Module = "wellbeing"
	ModuleSoftwareActivities  Module = "software_activities"
	ModuleUsers               Module = "users"
	ModuleRoles               Module = "roles"
	ModuleNotifications       Module = "notifications"
	ModuleAudit               Module = "audit"
)

var modules = []Module{
	ModuleCourses,
	ModuleContinuingEducation,
	ModuleWellbeing,
	ModuleSoftwareActivities,
	ModuleUsers,
	ModuleRoles,
	ModuleNotifications,
	ModuleAudit,
}

// Modules lists every known module in display order.
func Modules() []Module {
	out := make([]Module, len(modules))
	copy(out, modules)
	return out
}

// ParseModule maps a raw name onto a known Module.
func ParseModule(raw string) (Module, bool) {
	for _, m := range modules {
		if string(m) == raw {
			return m, true
		}
	}
	return "", false
}

// Valid reports whether m belongs to the closed module set.
func (m Module) Valid() bool {
	_, ok := ParseModule(string(m))
	return ok
}

// Action is the granularity at which permissions are checked.
type Action string

// Known actions.
const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

var actions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete}

// AllActions lists the known actions.
func AllActions() []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// ParseAction maps a raw name onto a known Action.
func ParseAction(raw string) (Action, bool) {
	for _, a := range actions {
		if string(a) == raw {
			return a, true
		}
	}
	return "", false
}

// Role is the single role a user holds.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// IsRoot reports whether the role is the distinguished root role.
func (r Role) IsRoot() bool {
	return r.Name == RootRole
}

// Actions is the per-module permission record.
type Actions struct {
	View   bool `json:"view" yaml:"view"`
	Create bool `json:"create" yaml:"create"`
	Edit   bool `json:"edit" yaml:"edit"`
	Delete bool `json:"delete" yaml:"delete"`
}

// Allows reports whether the record grants a. Unknown actions are denied.
func (a Actions) Allows(action Action) bool {
	switch action {
	case ActionView:
		return a.View
	case ActionCreate:
		return a.Create
	case ActionEdit:
		return a.Edit
	case ActionDelete:
		return a.Delete
	default:
		return false
	}
}

// Matrix maps modules to their permission record.
type Matrix map[Module]Actions

// Clone returns an independent copy of the matrix.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// InvalidationChannel is the Redis channel announcing that some role's matrix
// changed on the backend.
const InvalidationChannel = "snies:permissions.changed"
