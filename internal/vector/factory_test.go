package vector

import (
	"context"
	"testing"
)

func TestNewVectorIndex_Memory(t *testing.T) {
	idx, err := NewVectorIndex("memory", 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(memory): %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	err = idx.Upsert(ctx, []string{"a"}, [][]float32{{1, 0, 0}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
	if idx.Type() != "memory" {
		t.Errorf("Type=%s", idx.Type())
	}
}

func TestNewVectorIndex_Empty(t *testing.T) {
	// Empty string should default to memory
	idx, err := NewVectorIndex("", 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(''): %v", err)
	}
	defer idx.Close()

	if idx.Size() != 0 {
		t.Errorf("Size=%d, want 0", idx.Size())
	}
}

func TestNewVectorIndex_Chromem(t *testing.T) {
	idx, err := NewVectorIndex("chromem", 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(chromem): %v", err)
	}
	defer idx.Close()
	if idx.Type() != "chromem" {
		t.Errorf("Type=%s", idx.Type())
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	_, err := NewVectorIndex("unknown", 3)
	if err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNewVectorIndex_InvalidDimension(t *testing.T) {
	for _, typ := range []string{"memory", "chromem"} {
		if _, err := NewVectorIndex(typ, 0); err == nil {
			t.Errorf("%s: expected error for zero dimension", typ)
		}
	}
}

func TestIsFAISSAvailable(t *testing.T) {
	// The result depends on build tags
	available := IsFAISSAvailable()
	t.Logf("FAISS available: %v", available)
}
