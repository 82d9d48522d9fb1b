//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"fmt"
)

var errFAISSUnavailable = fmt.Errorf("FAISS not available: build with -tags=faiss and install FAISS library")

// FAISSIndex is a stub that returns an error when FAISS is not available.
// Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

// Upsert is not implemented without FAISS.
func (f *FAISSIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	return errFAISSUnavailable
}

// Search is not implemented without FAISS.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	return nil, errFAISSUnavailable
}

// Remove is not implemented without FAISS.
func (f *FAISSIndex) Remove(ctx context.Context, ids []string) error {
	return errFAISSUnavailable
}

// Size returns 0.
func (f *FAISSIndex) Size() int { return 0 }

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string { return string(IndexTypeFAISS) }

// Close is a no-op.
func (f *FAISSIndex) Close() error { return nil }
