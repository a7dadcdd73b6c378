// Package guard decides whether a protected region of the dashboard may
// render, based on the session's permission store.
package guard

import (
	"errors"
	"fmt"

	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/permstore"
)

// Decision is the render state a guard resolves to.
type Decision string

// Decisions, exhaustive.
const (
	Loading Decision = "loading"
	Failed  Decision = "failed"
	Allowed Decision = "allowed"
	Denied  Decision = "denied"
)

// Config selects what a guard checks. RequireRole takes precedence over
// Module/Action. A Config with neither set lets everything through; build it
// with PassThrough so the intent is visible.
type Config struct {
	Module      authz.Module
	Action      authz.Action
	RequireRole string
	// Key identifies the guard for denial notifications. Derived when empty.
	Key string
}

// ForModule guards action on module.
func ForModule(module authz.Module, action authz.Action) Config {
	return Config{Module: module, Action: action}
}

// ForRole guards on an exact role name.
func ForRole(name string) Config {
	return Config{RequireRole: name}
}

// PassThrough is the explicit "no check" configuration.
func PassThrough() Config {
	return Config{}
}

// IsPassThrough reports whether the config performs no check at all.
func (c Config) IsPassThrough() bool {
	return c.RequireRole == "" && c.Module == ""
}

// NotificationKey returns the key denial notifications are tracked under.
func (c Config) NotificationKey() string {
	if c.Key != "" {
		return c.Key
	}
	if c.RequireRole != "" {
		return "role:" + c.RequireRole
	}
	if c.Module == "" {
		return "pass"
	}
	return fmt.Sprintf("%s:%s", c.Module, c.action())
}

func (c Config) action() authz.Action {
	if c.Action == "" {
		return authz.ActionView
	}
	return c.Action
}

// Evaluate resolves state against cfg. Loading wins over everything; a 403
// from the backend resolves as a denial, any other store error as Failed.
func Evaluate(state permstore.State, cfg Config) Decision {
	if state.Loading {
		return Loading
	}
	if state.Err != nil {
		if errors.Is(state.Err, permstore.ErrNotAuthorized) {
			return Denied
		}
		return Failed
	}
	snap := state.Snapshot()
	switch {
	case cfg.RequireRole != "":
		if snap.HasRole(cfg.RequireRole) {
			return Allowed
		}
		return Denied
	case cfg.Module != "":
		if snap.Can(cfg.Module, cfg.action()) {
			return Allowed
		}
		return Denied
	default:
		return Allowed
	}
}
