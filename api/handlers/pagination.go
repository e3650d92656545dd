package handlers

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type PaginationParams struct {
	Limit  int
	Offset int
}

type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePagination reads limit and offset from the query string. Limits
// above MaxLimit are clamped; malformed or negative values are errors.
func ParsePagination(r *http.Request) (PaginationParams, error) {
	p := PaginationParams{Limit: DefaultLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return p, fmt.Errorf("limit must be a positive integer, got %q", v)
		}
		p.Limit = min(n, MaxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("offset must be a non-negative integer, got %q", v)
		}
		p.Offset = n
	}
	return p, nil
}

// Paginate returns the page of items selected by p. Items is never nil.
func Paginate[T any](items []T, p PaginationParams) PaginatedResponse[T] {
	start := min(p.Offset, len(items))
	end := min(start+p.Limit, len(items))
	page := make([]T, end-start)
	copy(page, items[start:end])
	return PaginatedResponse[T]{
		Items:  page,
		Total:  len(items),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
}
