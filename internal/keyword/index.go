// Package keyword provides full-text search over users' document text.
package keyword

import (
	"context"

	"github.com/hyperjump/manabu/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the filename.
	// Values <= 1 mean no boost.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// Index defines the document search operations. Every document belongs to one user
// and Search only returns that user's documents.
type Index interface {
	Index(ctx context.Context, doc *models.Document) error
	Search(ctx context.Context, userID, query string, limit int, opts *SearchOptions) ([]*Hit, error)
	SearchPage(ctx context.Context, userID, query string, from, size int, opts *SearchOptions) (*Page, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single search match.
type Hit struct {
	ID      string
	Score   float64
	Snippet string
}

// Page is one window of search hits. Total counts every match.
type Page struct {
	Hits  []*Hit
	Total uint64
}
