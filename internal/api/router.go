package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	audithttp "github.com/snies/snies-admin/internal/audit/http"
	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/observability"
	"github.com/snies/snies-admin/internal/platform/httpx"
	"github.com/snies/snies-admin/internal/rbac"
	"github.com/snies/snies-admin/jobs"
)

const (
	tokenRateLimit  = 10
	tokenRateWindow = time.Minute
)

// RouterParams groups dependencies for building the API router.
type RouterParams struct {
	Logger         *slog.Logger
	CORSOrigins    []string
	Handler        *Handler
	Authenticate   func(http.Handler) http.Handler
	Enforcer       rbac.Enforcer
	RolesHandler   *rbac.Handler
	AuditHandler   *audithttp.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	RequestTimeout time.Duration
}

// NewRouter constructs the API router.
func NewRouter(params RouterParams) http.Handler {
	timeout := params.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   params.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	tokenLimiter := httprate.Limit(tokenRateLimit, tokenRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, r, http.StatusTooManyRequests, "Too Many Requests", "too many sign-in attempts")
		}),
	)
	r.With(tokenLimiter).Post("/auth/token", params.Handler.issueToken)

	r.Group(func(r chi.Router) {
		r.Use(params.Authenticate)
		r.Get("/users/me/permissions/", params.Handler.myPermissions)
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.With(params.Enforcer.Require(authz.ModuleAudit, authz.ActionView)).Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.Enforcer.RequireRole(authz.RootRole)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, r, http.StatusNotFound, "Not Found", "")
	})
	return r
}
