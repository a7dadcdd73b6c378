package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/snies/snies-admin/internal/permstore"
	"github.com/snies/snies-admin/internal/shared"
	"github.com/snies/snies-admin/internal/view"
)

// noticeWait bounds how long the login page waits for a settling store before
// deciding whether to show the expired notice.
const noticeWait = 250 * time.Millisecond

// Handler wires the dashboard sign-in and sign-out flows.
type Handler struct {
	logger         *slog.Logger
	issuer         TokenIssuer
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	registry       *permstore.Registry
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, issuer TokenIssuer, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, registry *permstore.Registry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		issuer:         issuer,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		registry:       registry,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
	Notice string
	Next   string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.Credential() != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	data := loginPageData{Next: SafeReturnPath(r.URL.Query().Get("next"))}
	if store := permstore.StoreFromContext(r.Context()); store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), noticeWait)
		state := store.WaitLoaded(ctx)
		cancel()
		if errors.Is(state.Err, permstore.ErrSessionExpired) {
			data.Notice = state.Message()
		}
	}
	h.render(w, r, http.StatusOK, data)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	next := SafeReturnPath(r.PostFormValue("next"))
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}

	if len(errs) == 0 {
		token, err := h.issuer.IssueToken(r.Context(), form.Email, form.Password)
		switch {
		case err == nil:
			h.signIn(sess, token)
			sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back"})
			if next == "" {
				next = "/"
			}
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		case errors.Is(err, shared.ErrInvalidCredentials):
			errs["general"] = "Invalid email or password"
		case errors.Is(err, ErrRateLimited):
			errs["general"] = "Too many attempts, please wait a minute"
		default:
			h.logger.Error("request token", slog.Any("error", err))
			errs["general"] = "Sign-in is temporarily unavailable"
		}
	}

	form.Password = ""
	h.render(w, r, http.StatusBadRequest, loginPageData{Form: form, Errors: errs, Next: next})
}

// signIn moves the session to a new ID carrying the credential and gives it a
// fresh permission store.
func (h *Handler) signIn(sess *shared.Session, token Token) {
	previous := sess.ID
	name := token.Name
	sess.SignIn(token.Token, name)
	if h.csrfManager != nil {
		if _, err := h.csrfManager.Rotate(sess); err != nil {
			sess.Delete(shared.CSRFSessionKey)
		}
	}
	if h.registry == nil {
		return
	}
	h.registry.Release(previous)
	entry := h.registry.Acquire(sess.ID, token.Token)
	entry.Holder.Set(token.Token)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if h.registry != nil {
			if entry, ok := h.registry.Lookup(sess.ID); ok {
				entry.Holder.Clear()
			}
			h.registry.Release(sess.ID)
		}
		sess.SignOut()
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Sign in",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	default:
		return fe.Error()
	}
}

// SafeReturnPath accepts only local absolute paths and returns "" otherwise.
func SafeReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	return p
}
