package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/snies/snies-admin/internal/audit"
	"github.com/snies/snies-admin/internal/platform/httpx"
	"github.com/snies/snies-admin/internal/shared"
)

// ListService defines the business contract for audit listings.
type ListService interface {
	List(ctx context.Context, filters audit.Filters) (audit.Result, error)
}

// Handler serves the audit listing API.
type Handler struct {
	logger  *slog.Logger
	service ListService
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service ListService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit list", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	page, pageSize := shared.PageFromQuery(q)
	filters := audit.Filters{
		Action:   strings.TrimSpace(q.Get("action")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := strings.TrimSpace(q.Get("actor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return audit.Filters{}, fmt.Errorf("%w: actor_id must be a positive integer", httpx.ErrValidation)
		}
		filters.ActorID = id
	}
	return filters, nil
}
