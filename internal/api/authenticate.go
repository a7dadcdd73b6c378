// Package api serves the backend contract the dashboard talks to: token
// issuance, the caller's permissions and role administration.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/snies/snies-admin/internal/auth"
	"github.com/snies/snies-admin/internal/platform/httpx"
	"github.com/snies/snies-admin/internal/rbac"
	"github.com/snies/snies-admin/internal/shared"
)

// TokenParser verifies bearer tokens.
type TokenParser interface {
	Parse(raw string) (int64, error)
}

// UserSource loads accounts by ID.
type UserSource interface {
	User(ctx context.Context, id int64) (*auth.User, error)
}

// GrantSource loads the role and matrix of a role ID.
type GrantSource interface {
	Grant(ctx context.Context, roleID int64) (rbac.RoleGrant, error)
}

// Authenticate resolves the bearer token into an rbac.Principal. Missing or
// invalid tokens are answered with 401, inactive accounts with 403.
func Authenticate(tokens TokenParser, users UserSource, grants GrantSource, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="snies"`)
				httpx.Problem(w, r, http.StatusUnauthorized, "Unauthorized", "bearer token required")
				return
			}
			userID, err := tokens.Parse(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="snies", error="invalid_token"`)
				httpx.Problem(w, r, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
				return
			}
			user, err := users.User(r.Context(), userID)
			switch {
			case errors.Is(err, shared.ErrNotFound):
				httpx.Problem(w, r, http.StatusUnauthorized, "Unauthorized", "account no longer exists")
				return
			case err != nil:
				logger.Error("load token user", slog.Int64("user_id", userID), slog.Any("error", err))
				httpx.RespondError(w, r, err)
				return
			}
			if !user.IsActive {
				httpx.Problem(w, r, http.StatusForbidden, "Forbidden", "account disabled")
				return
			}
			grant, err := grants.Grant(r.Context(), user.RoleID)
			switch {
			case errors.Is(err, rbac.ErrNotFound):
				httpx.Problem(w, r, http.StatusForbidden, "Forbidden", "account has no role")
				return
			case err != nil:
				logger.Error("load role grant", slog.Int64("role_id", user.RoleID), slog.Any("error", err))
				httpx.RespondError(w, r, err)
				return
			}
			principal := rbac.Principal{
				UserID: user.ID,
				Email:  user.Email,
				Role:   grant.Role,
				Matrix: grant.Matrix,
			}
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
