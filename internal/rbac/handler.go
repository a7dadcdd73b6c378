package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/platform/httpx"
)

// RoleService is the part of Service the HTTP handler needs.
type RoleService interface {
	ListGrants(ctx context.Context) ([]RoleGrant, error)
	ReplaceMatrix(ctx context.Context, actor Principal, roleID int64, matrix authz.Matrix) (RoleGrant, error)
}

// Handler serves role administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  RoleService
	enforcer Enforcer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service RoleService, enforcer Enforcer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, enforcer: enforcer}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.enforcer.Require(authz.ModuleRoles, authz.ActionView)).Get("/", h.listRoles)
	r.With(h.enforcer.RequireRole(authz.RootRole)).Put("/{id}/permissions/", h.replacePermissions)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.ListGrants(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	out := make([]authz.PermissionsResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, authz.EncodePermissions(g.Role, g.Matrix))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type replaceRequest struct {
	Permissions map[string]authz.Actions `json:"permissions"`
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || roleID <= 0 {
		httpx.RespondError(w, r, fmt.Errorf("%w: invalid role id", httpx.ErrValidation))
		return
	}
	var req replaceRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	matrix := make(authz.Matrix, len(req.Permissions))
	for name, actions := range req.Permissions {
		module, ok := authz.ParseModule(name)
		if !ok {
			httpx.RespondError(w, r, fmt.Errorf("%w: unknown module %q", httpx.ErrValidation, name))
			return
		}
		matrix[module] = actions
	}

	actor, _ := PrincipalFromContext(r.Context())
	grant, err := h.service.ReplaceMatrix(r.Context(), actor, roleID, matrix)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, authz.EncodePermissions(grant.Role, grant.Matrix))
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, r, fmt.Errorf("%w: role %d", httpx.ErrNotFound, roleID))
	case errors.Is(err, ErrRootImmutable):
		httpx.RespondError(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		h.logger.Error("replace matrix", slog.Int64("role_id", roleID), slog.Any("error", err))
		httpx.RespondError(w, r, err)
	}
}
