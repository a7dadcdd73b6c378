package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/snies/snies-admin/internal/audit"
	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/platform/httpx"
)

// DenialObserver counts denials per module.
type DenialObserver interface {
	ObserveDenial(module string)
}

// Enforcer gates API handlers with the same predicate the dashboard uses.
// It expects the authentication middleware to have stored a Principal.
type Enforcer struct {
	Logger   *slog.Logger
	Recorder audit.Recorder
	Observer DenialObserver
}

// Require allows the request when the caller may perform action on module.
func (e Enforcer) Require(module authz.Module, action authz.Action) func(http.Handler) http.Handler {
	return e.gate("module", string(module), string(action), func(s authz.Snapshot) bool {
		return s.Can(module, action)
	})
}

// RequireRole allows the request when the caller holds exactly role name.
func (e Enforcer) RequireRole(name string) func(http.Handler) http.Handler {
	return e.gate("role", name, "", func(s authz.Snapshot) bool {
		return s.HasRole(name)
	})
}

func (e Enforcer) gate(entity, entityID, action string, allowed func(authz.Snapshot) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, r, http.StatusUnauthorized, "Unauthorized", "bearer token required")
				return
			}
			if allowed(principal.Snapshot()) {
				next.ServeHTTP(w, r)
				return
			}
			e.denied(r, principal, entity, entityID, action)
			httpx.Problem(w, r, http.StatusForbidden, "Forbidden", "insufficient permissions")
		})
	}
}

func (e Enforcer) denied(r *http.Request, p Principal, entity, entityID, action string) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("authorization denied",
		slog.Int64("user_id", p.UserID),
		slog.String("role", p.Role.Name),
		slog.String(entity, entityID),
		slog.String("action", action),
		slog.String("path", r.URL.Path),
	)
	if e.Observer != nil && entity == "module" {
		e.Observer.ObserveDenial(entityID)
	}
	if e.Recorder == nil {
		return
	}
	meta := map[string]any{
		"role":   p.Role.Name,
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if action != "" {
		meta["action"] = action
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		meta["request_id"] = id
	}
	entry := audit.Entry{ActorID: p.UserID, Action: audit.ActionDenied, Entity: entity, EntityID: entityID, Meta: meta}
	if err := e.Recorder.Record(r.Context(), entry); err != nil {
		logger.Warn("record denial", slog.Any("error", err))
	}
}
