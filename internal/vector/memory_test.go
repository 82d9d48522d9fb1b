package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/shiori/internal/models"
)

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	ids := []string{"a", "b", "c"}
	if err := idx.Upsert(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("top result should be a, got %s", results[0].ID)
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []string{"x", "y", "z"}, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}})
	if err := idx.Remove(ctx, []string{"x", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("expected size 2, got %d", idx.Size())
	}
	// z moved into x's slot; replacing it must still work.
	if err := idx.Upsert(ctx, []string{"z"}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	res, _ := idx.Search(ctx, []float32{1, 0}, 1)
	if len(res) != 1 || res[0].ID != "z" {
		t.Errorf("expected z on top after replace, got %+v", res)
	}
}

func TestMemoryIndex_DimensionMismatchWritesNothing(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	err := idx.Upsert(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {1, 0, 0}})
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("partial write: size=%d", idx.Size())
	}
}
