package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/snies/snies-admin/internal/platform/httpx"
	"github.com/snies/snies-admin/internal/rbac"
)

const rateLimit = 30
const rateWindow = time.Minute

// MountRoutes registers the audit listing. Authorization is applied by the
// caller.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, r, http.StatusTooManyRequests, "Too Many Requests", "audit listing rate limit exceeded")
		}),
	)
	r.With(limiter).Get("/", h.handleList)
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := rbac.PrincipalFromContext(r.Context()); ok && p.UserID > 0 {
		return "user:" + strconv.FormatInt(p.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
