package common

import (
	"net/http"
	"strconv"
)

// MaxPageSize caps the limit a client may request.
const MaxPageSize = 100

// Pagination is the metadata attached to list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination derives the page count from total.
func NewPagination(page, limit, total int) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = (total + limit - 1) / limit
	}
	return p
}

// ParsePagination reads ?page= and ?limit=, falling back to page 1 and
// defaultLimit on missing or invalid values.
func ParsePagination(r *http.Request, defaultLimit int) (page, limit int) {
	q := r.URL.Query()
	page, limit = 1, defaultLimit
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, MaxPageSize)
	}
	return page, limit
}
