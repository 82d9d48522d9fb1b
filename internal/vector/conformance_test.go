package vector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/shiori/internal/models"
)

// backends returns a constructor for every backend compiled into this build.
func backends(t *testing.T) map[string]func(dims int) VectorIndex {
	t.Helper()
	out := map[string]func(int) VectorIndex{}
	for _, typ := range []IndexType{IndexTypeMemory, IndexTypeChromem, IndexTypeFAISS} {
		if typ == IndexTypeFAISS && !IsFAISSAvailable() {
			continue
		}
		typ := typ
		out[string(typ)] = func(dims int) VectorIndex {
			idx, err := NewVectorIndex(string(typ), dims)
			if err != nil {
				t.Fatalf("NewVectorIndex(%s): %v", typ, err)
			}
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		}
	}
	return out
}

func TestBackends_EmptySearch(t *testing.T) {
	for name, newIdx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIdx(3)
			results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 0 {
				t.Errorf("expected empty results, got %d", len(results))
			}
		})
	}
}

func TestBackends_OrderAndTieBreak(t *testing.T) {
	ctx := context.Background()
	for name, newIdx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIdx(2)
			// Ten identical vectors tie exactly; they must come back by ascending ID.
			var ids []string
			var vecs [][]float32
			for i := 9; i >= 0; i-- {
				ids = append(ids, fmt.Sprintf("tie-%02d", i))
				vecs = append(vecs, []float32{0.6, 0.8})
			}
			ids = append(ids, "best")
			vecs = append(vecs, []float32{1, 0})
			if err := idx.Upsert(ctx, ids, vecs); err != nil {
				t.Fatal(err)
			}
			for run := 0; run < 5; run++ {
				res, err := idx.Search(ctx, []float32{1, 0}, 4)
				if err != nil {
					t.Fatal(err)
				}
				want := []string{"best", "tie-00", "tie-01", "tie-02"}
				if len(res) != len(want) {
					t.Fatalf("got %d results", len(res))
				}
				for i := range want {
					if res[i].ID != want[i] {
						t.Fatalf("run %d: result %d = %s, want %s", run, i, res[i].ID, want[i])
					}
				}
			}
		})
	}
}

func TestBackends_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	for name, newIdx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIdx(2)
			_ = idx.Upsert(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})
			if err := idx.Upsert(ctx, []string{"a"}, [][]float32{{0, 1}}); err != nil {
				t.Fatal(err)
			}
			if idx.Size() != 2 {
				t.Errorf("size=%d after replace, want 2", idx.Size())
			}
			res, err := idx.Search(ctx, []float32{0, 1}, 10)
			if err != nil {
				t.Fatal(err)
			}
			seen := map[string]int{}
			for _, r := range res {
				seen[r.ID]++
			}
			if seen["a"] != 1 || seen["b"] != 1 || len(res) != 2 {
				t.Errorf("expected each id once, got %+v", seen)
			}
		})
	}
}

func TestBackends_Remove(t *testing.T) {
	ctx := context.Background()
	for name, newIdx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIdx(2)
			_ = idx.Upsert(ctx, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}})
			if err := idx.Remove(ctx, []string{"x"}); err != nil {
				t.Fatal(err)
			}
			if idx.Size() != 1 {
				t.Errorf("expected size 1, got %d", idx.Size())
			}
			res, err := idx.Search(ctx, []float32{1, 0}, 10)
			if err != nil {
				t.Fatal(err)
			}
			for _, r := range res {
				if r.ID == "x" {
					t.Error("removed item 'x' should not appear in search results")
				}
			}
		})
	}
}

func TestBackends_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	for name, newIdx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIdx(3)
			if err := idx.Upsert(ctx, []string{"a"}, [][]float32{{1, 0}}); !errors.Is(err, models.ErrDimensionMismatch) {
				t.Errorf("Upsert: expected ErrDimensionMismatch, got %v", err)
			}
			_ = idx.Upsert(ctx, []string{"a"}, [][]float32{{1, 0, 0}})
			if _, err := idx.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, models.ErrDimensionMismatch) {
				t.Errorf("Search: expected ErrDimensionMismatch, got %v", err)
			}
			if err := idx.Upsert(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}}); err == nil {
				t.Error("expected error for ids/vectors length mismatch")
			}
		})
	}
}
