package shared

import (
	"math"
	"net/url"
	"strconv"
)

// MaxPageSize caps page sizes accepted from clients.
const MaxPageSize = 100

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > MaxPageSize {
		perPage = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageFromQuery reads page and page_size from query values.
func PageFromQuery(q url.Values) (page, perPage int) {
	page, _ = strconv.Atoi(q.Get("page"))
	perPage, _ = strconv.Atoi(q.Get("page_size"))
	p := NewPagination(page, perPage, 0)
	return p.Page, p.PerPage
}

// Offset returns the row offset of the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
