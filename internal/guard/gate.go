package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/snies/snies-admin/internal/permstore"
	"github.com/snies/snies-admin/internal/shared"
	"github.com/snies/snies-admin/internal/view"
)

// Template names rendered by the gate.
const (
	TemplateLoading = "pages/guard_loading.html"
	TemplateFailed  = "pages/guard_error.html"
	TemplateDenied  = "pages/guard_denied.html"
)

// DecisionObserver is notified of every decision the gate makes.
type DecisionObserver interface {
	ObserveDecision(decision string)
}

// GateConfig collects the gate's dependencies.
type GateConfig struct {
	Logger    *slog.Logger
	Templates *view.Engine
	CSRF      *shared.CSRFManager
	Observer  DecisionObserver
	// LoadWait bounds how long a request waits for a loading store before the
	// placeholder is rendered.
	LoadWait time.Duration
}

// Gate renders guarded HTTP handlers.
type Gate struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	observer  DecisionObserver
	wait      time.Duration
	tracker   Tracker
}

// NewGate builds a Gate.
func NewGate(cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger:    logger,
		templates: cfg.Templates,
		csrf:      cfg.CSRF,
		observer:  cfg.Observer,
		wait:      cfg.LoadWait,
	}
}

// signOutPath ends the session; it is the only way out when the backend
// refuses the whole account.
const signOutPath = "/auth/logout"

type deniedPage struct {
	Message     string
	BackPath    string
	SignOutPath string
}

// deniedExit picks where the denial page leads. A 403 from the backend denies
// every page, home included, so the page offers sign-out instead.
func deniedExit(state permstore.State) deniedPage {
	if errors.Is(state.Err, permstore.ErrNotAuthorized) {
		return deniedPage{SignOutPath: signOutPath}
	}
	return deniedPage{BackPath: "/"}
}

type failedPage struct {
	Message   string
	RetryPath string
	Return    string
}

type loadingPage struct {
	RefreshSeconds int
}

// Require returns middleware that renders next only when cfg allows it.
func (g *Gate) Require(cfg Config) func(http.Handler) http.Handler {
	if cfg.IsPassThrough() {
		g.logger.Debug("guard configured as pass-through")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := g.resolve(r)
			decision := Evaluate(state, cfg)
			if g.observer != nil {
				g.observer.ObserveDecision(string(decision))
			}
			sess := shared.SessionFromContext(r.Context())
			var marks Marks
			if sess != nil {
				marks = sess
			}
			notify := g.tracker.Observe(marks, cfg.NotificationKey(), decision)

			switch decision {
			case Allowed:
				next.ServeHTTP(w, r)
			case Loading:
				w.Header().Set("Retry-After", "1")
				g.render(w, r, TemplateLoading, "Loading", loadingPage{RefreshSeconds: 1}, http.StatusOK)
			case Failed:
				g.render(w, r, TemplateFailed, "Something went wrong", failedPage{
					Message:   state.Message(),
					RetryPath: "/permissions/refresh",
					Return:    r.URL.RequestURI(),
				}, http.StatusServiceUnavailable)
			case Denied:
				if notify && sess != nil {
					sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: denialMessage(cfg, state)})
				}
				page := deniedExit(state)
				page.Message = denialMessage(cfg, state)
				g.render(w, r, TemplateDenied, "Access denied", page, http.StatusForbidden)
			}
		})
	}
}

func (g *Gate) resolve(r *http.Request) permstore.State {
	store := permstore.StoreFromContext(r.Context())
	if store == nil {
		g.logger.Error("guard used without a permission store", slog.String("path", r.URL.Path))
		return permstore.State{Err: permstore.ErrUnavailable}
	}
	state := store.State()
	if !state.Loading || g.wait <= 0 {
		return state
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.wait)
	defer cancel()
	return store.WaitLoaded(ctx)
}

func (g *Gate) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	sess := shared.SessionFromContext(r.Context())
	var csrfToken string
	if g.csrf != nil && sess != nil {
		csrfToken, _ = g.csrf.EnsureToken(r.Context(), sess)
	}
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: title, CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	if sess != nil {
		viewData.User = sess.User()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := g.templates.Render(w, template, viewData); err != nil {
		g.logger.Error("render guard template", slog.String("template", template), slog.Any("error", err))
	}
}

func denialMessage(cfg Config, state permstore.State) string {
	if state.Err != nil {
		return state.Message()
	}
	if cfg.RequireRole != "" {
		return "This section is restricted to the " + cfg.RequireRole + " role."
	}
	return "You do not have permission to " + string(cfg.action()) + " " + view.ModuleLabel(string(cfg.Module)) + "."
}
