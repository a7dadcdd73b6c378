// Package dashboard serves the signed-in pages of the admin UI. Every page is
// mounted behind a guard so content renders only for roles allowed to see it.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/snies/snies-admin/internal/auth"
	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/guard"
	"github.com/snies/snies-admin/internal/permstore"
	"github.com/snies/snies-admin/internal/rbac"
	"github.com/snies/snies-admin/internal/shared"
	"github.com/snies/snies-admin/internal/view"
)

// LoginPath is where anonymous visitors are sent.
const LoginPath = "/auth/login"

// RoleLister reads every role with its matrix from the API.
type RoleLister interface {
	ListRoles(ctx context.Context, credential string) ([]rbac.RoleGrant, error)
}

// Config collects the handler's dependencies.
type Config struct {
	Logger    *slog.Logger
	Templates *view.Engine
	CSRF      *shared.CSRFManager
	Gate      *guard.Gate
	Roles     RoleLister
}

// Handler serves home, module and role administration pages.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      *guard.Gate
	roles     RoleLister
}

// NewHandler builds a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, templates: cfg.Templates, csrf: cfg.CSRF, gate: cfg.Gate, roles: cfg.Roles}
}

// MountRoutes registers dashboard pages. Module routes are static so the
// guard on each one is fixed at startup.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireLogin)
		r.With(h.gate.Require(guard.PassThrough())).Get("/", h.home)
		for _, module := range authz.Modules() {
			base := "/modules/" + string(module)
			r.With(h.gate.Require(guard.ForModule(module, authz.ActionView))).Get(base, h.modulePage(module))
			r.With(h.gate.Require(guard.ForModule(module, authz.ActionCreate))).Get(base+"/new", h.moduleNewPage(module))
		}
		r.With(h.gate.Require(guard.ForRole(authz.RootRole))).Get("/admin/roles", h.adminRoles)
		r.Post("/permissions/refresh", h.refresh)
	})
}

// RequireLogin redirects requests without a credential to the login page.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess != nil && sess.Credential() != "" {
			next.ServeHTTP(w, r)
			return
		}
		target := LoginPath
		if r.Method == http.MethodGet && r.URL.Path != "/" {
			target += "?next=" + url.QueryEscape(r.URL.RequestURI())
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}

type moduleCard struct {
	Module    string
	CanCreate bool
}

type homePage struct {
	Role    string
	Modules []moduleCard
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(r)
	data := homePage{}
	if snap.Role != nil {
		data.Role = snap.Role.Name
	}
	for _, module := range snap.Visible() {
		data.Modules = append(data.Modules, moduleCard{
			Module:    string(module),
			CanCreate: snap.Can(module, authz.ActionCreate),
		})
	}
	h.render(w, r, "pages/home.html", "Dashboard", data, snap)
}

type modulePageData struct {
	Module    string
	Actions   authz.Actions
	CanCreate bool
}

func (h *Handler) modulePage(module authz.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := h.snapshot(r)
		actions := authz.Actions{}
		for _, a := range authz.AllActions() {
			allowed := snap.Can(module, a)
			switch a {
			case authz.ActionView:
				actions.View = allowed
			case authz.ActionCreate:
				actions.Create = allowed
			case authz.ActionEdit:
				actions.Edit = allowed
			case authz.ActionDelete:
				actions.Delete = allowed
			}
		}
		data := modulePageData{Module: string(module), Actions: actions, CanCreate: actions.Create}
		h.render(w, r, "pages/module.html", view.ModuleLabel(string(module)), data, snap)
	}
}

type moduleNewData struct {
	Module string
}

func (h *Handler) moduleNewPage(module authz.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, "pages/module_new.html", "New "+view.ModuleLabel(string(module)), moduleNewData{Module: string(module)}, h.snapshot(r))
	}
}

type roleRow struct {
	Module  string
	Actions authz.Actions
}

type roleCard struct {
	Name string
	Rows []roleRow
}

type adminRolesPage struct {
	Error string
	Roles []roleCard
}

func (h *Handler) adminRoles(w http.ResponseWriter, r *http.Request) {
	data := adminRolesPage{}
	sess := shared.SessionFromContext(r.Context())
	if h.roles == nil || sess == nil {
		data.Error = "Role administration is not available."
	} else {
		grants, err := h.roles.ListRoles(r.Context(), sess.Credential())
		if err != nil {
			h.logger.Warn("list roles", slog.Any("error", err))
			data.Error = "Roles could not be loaded, try again later."
		}
		for _, g := range grants {
			card := roleCard{Name: g.Role.Name}
			for _, module := range authz.Modules() {
				if actions, ok := g.Matrix[module]; ok {
					card.Rows = append(card.Rows, roleRow{Module: string(module), Actions: actions})
				}
			}
			data.Roles = append(data.Roles, card)
		}
	}
	h.render(w, r, "pages/admin_roles.html", "Roles", data, h.snapshot(r))
}

// refresh refetches the session's permissions and returns to the page that
// offered the retry.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	store := permstore.StoreFromContext(r.Context())
	if store == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	state := store.Refresh(r.Context())
	if state.Err != nil {
		h.logger.Info("manual permission refresh failed", slog.Any("error", state.Err))
	}
	target := auth.SafeReturnPath(r.PostFormValue("return"))
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) snapshot(r *http.Request) authz.Snapshot {
	store := permstore.StoreFromContext(r.Context())
	if store == nil {
		return authz.Snapshot{}
	}
	return store.State().Snapshot()
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, snap authz.Snapshot) {
	sess := shared.SessionFromContext(r.Context())
	viewData := view.TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Nav:         Navigation(snap, r.URL.Path),
		Data:        data,
	}
	if sess != nil {
		if h.csrf != nil {
			viewData.CSRFToken, _ = h.csrf.EnsureToken(r.Context(), sess)
		}
		viewData.Flash = sess.PopFlash()
		viewData.User = sess.User()
	}
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render page", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
