// Package vector provides nearest-neighbour backends over unit vectors and
// the snapshot file format used to persist them.
package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/shiori/internal/models"
)

// VectorIndex stores one vector per ID and returns the nearest IDs by inner
// product. Implementations must return results ordered by descending score,
// ties broken by ascending ID, and must be deterministic for a fixed state.
type VectorIndex interface {
	// Upsert inserts vectors, replacing any existing vector with the same ID.
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error
	Remove(ctx context.Context, ids []string) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Size() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit (ID is the fragment ID).
type VectorResult struct {
	ID    string
	Score float64 // Inner product, equal to cosine similarity for unit vectors
}

// SortResults orders results by descending score, then ascending ID.
func SortResults(results []*VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// checkDims returns ErrDimensionMismatch unless len(v) == dims.
func checkDims(v []float32, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("%w: got %d, expected %d", models.ErrDimensionMismatch, len(v), dims)
	}
	return nil
}

// boundarySettled reports whether a sorted candidate list of size n, drawn
// as the top n of total, already contains every item that could tie with
// the k-th result.
func boundarySettled(sorted []*VectorResult, k, n, total int) bool {
	if n >= total || len(sorted) <= k {
		return true
	}
	return sorted[len(sorted)-1].Score < sorted[k-1].Score
}
