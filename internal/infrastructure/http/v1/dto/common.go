// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"fmt"
	"time"

	"ncfpos/internal/config"
)

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse never renders a null items array.
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// DateRangeQuery is the [from, to) range of report endpoints. Dates are YYYY-MM-DD
// (to is inclusive as a date) or RFC 3339 timestamps (to is exclusive).
type DateRangeQuery struct {
	From   string `form:"from" binding:"required"`
	To     string `form:"to" binding:"required"`
	Format string `form:"format" binding:"omitempty,oneof=json txt"`
}

// Range parses the query.
func (q DateRangeQuery) Range() (time.Time, time.Time, error) {
	from, err := parseBound(q.From, false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
	}
	to, err := parseBound(q.To, true)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
	}
	return from, to, nil
}

func parseBound(s string, upper bool) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		if upper {
			return d.AddDate(0, 0, 1), nil
		}
		return d, nil
	}
	return time.Parse(time.RFC3339, s)
}

// parseExpiry is shared by request types that accept an expiry date.
func parseExpiry(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := config.ParseExpiry(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
