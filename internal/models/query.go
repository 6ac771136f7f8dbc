package models

import "fmt"

// SearchQuery is a full-text search over a user's processed documents.
type SearchQuery struct {
	Query string `json:"query"`
	Page  int    `json:"page,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Fuzzy bool   `json:"fuzzy,omitempty"` // typo tolerance
}

// Validate ensures the query is non-empty and normalizes paging.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// Offset returns the number of results to skip for the current page.
func (q *SearchQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}
