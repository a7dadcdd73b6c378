package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/snies/snies-admin/internal/auth"
	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/platform/httpx"
	"github.com/snies/snies-admin/internal/rbac"
	"github.com/snies/snies-admin/internal/shared"
)

// Authenticator checks email and password.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*auth.User, error)
}

// TokenSigner issues bearer tokens.
type TokenSigner interface {
	Issue(user *auth.User) (auth.Token, error)
}

// Handler serves the token and permissions endpoints.
type Handler struct {
	logger    *slog.Logger
	accounts  Authenticator
	tokens    TokenSigner
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, accounts Authenticator, tokens TokenSigner) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, accounts: accounts, tokens: tokens, validator: validator.New()}
}

type tokenRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, r, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Info("token refused", slog.String("email", req.Email))
			httpx.Problem(w, r, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
			return
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, token)
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, r, http.StatusUnauthorized, "Unauthorized", "bearer token required")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, authz.EncodePermissions(principal.Role, principal.Matrix))
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
