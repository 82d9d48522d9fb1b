// Package keyword provides a full-text side index over fragment text.
//
// The vector index is the retrieval path; this index backs literal lookups
// (fragment grep) and is rebuilt from the vector index when it drifts.
package keyword

import (
	"context"

	"github.com/hyperjump/shiori/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the file name.
	// Values <= 1 disable the separate title query.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 2.
	Fuzziness int
	// Modalities restricts hits to the listed modalities when non-empty.
	Modalities []models.Modality
}

// KeywordIndex defines keyword search operations over fragments.
type KeywordIndex interface {
	// IndexFragments adds or replaces the given fragments in one batch.
	IndexFragments(ctx context.Context, entries []models.IndexEntry) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// Delete removes fragments by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error
	// DeleteDocument removes every fragment of a document.
	DeleteDocument(ctx context.Context, documentID string) error
	// DocCount returns the number of fragments in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Path       string          `json:"path"`
	Modality   models.Modality `json:"modality"`
	Text       string          `json:"text"`
	Score      float64         `json:"score"`
}
