package audit

import (
	"context"
	"fmt"

	"github.com/snies/snies-admin/internal/shared"
)

// Service lists audit entries with paging.
type Service struct {
	repo Repository
}

// NewService builds a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns the requested page.
func (s *Service) List(ctx context.Context, filters Filters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	page := shared.NewPagination(filters.Page, filters.PageSize, 0)
	rows, total, err := s.repo.List(ctx, filters, page.PerPage, page.Offset())
	if err != nil {
		return Result{}, fmt.Errorf("audit: list: %w", err)
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Result{Rows: rows, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}
