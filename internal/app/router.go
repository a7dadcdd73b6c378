package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/snies/snies-admin/internal/auth"
	"github.com/snies/snies-admin/internal/dashboard"
	"github.com/snies/snies-admin/internal/observability"
	"github.com/snies/snies-admin/internal/permstore"
	"github.com/snies/snies-admin/internal/platform/httpx"
	"github.com/snies/snies-admin/internal/shared"
	"github.com/snies/snies-admin/web"
)

// RouterParams groups dependencies for building the dashboard router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	Registry         *permstore.Registry
	AuthHandler      *auth.Handler
	DashboardHandler *dashboard.Handler
	Metrics          *observability.Metrics
	Permissions      BreakerReporter
}

// BreakerReporter is satisfied by *permstore.Client.
type BreakerReporter interface {
	BreakerState() string
}

type healthBody struct {
	Status             string `json:"status"`
	PermissionsBreaker string `json:"permissions_breaker,omitempty"`
}

// NewRouter constructs the dashboard chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	// An open breaker degrades pages but the process stays healthy.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := healthBody{Status: "ok"}
		if params.Permissions != nil {
			body.PermissionsBreaker = params.Permissions.BreakerState()
		}
		httpx.JSON(w, http.StatusOK, body)
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := web.StaticFS()
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		// Static assets skip the session and rate limit.
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
			Registry:       params.Registry,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Route("/auth", params.AuthHandler.MountRoutes)
		params.DashboardHandler.MountRoutes(r)
	})

	return r
}

// staticCacheHandler lets browsers cache static assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
