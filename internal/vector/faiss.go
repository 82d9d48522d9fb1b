//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

// FAISSIndex is a vector index using a FAISS IndexFlatIP. FAISS flat
// indexes cannot delete in place, so replaced and removed vectors stay in
// the index as tombstones and are filtered from results.
type FAISSIndex struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	idToIntID  map[string]int64 // string ID -> FAISS internal int64 ID
	intIDToID  map[int64]string // FAISS internal int64 ID -> string ID
	nextID     int64
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	var index *C.FaissIndexFlatIP
	ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		idToIntID:  make(map[string]int64),
		intIDToID:  make(map[int64]string),
	}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Upsert appends vectors and points the IDs at the new rows.
func (f *FAISSIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		if err := checkDims(vec, f.dimensions); err != nil {
			return err
		}
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ret := C.faiss_Index_add(f.index, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	for _, id := range ids {
		if old, ok := f.idToIntID[id]; ok {
			delete(f.intIDToID, old)
		}
		f.idToIntID[id] = f.nextID
		f.intIDToID[f.nextID] = id
		f.nextID++
	}
	return nil
}

// Search returns the top-k live vectors, widening the FAISS request past
// tombstones and equal scores at the k-th position.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDims(query, f.dimensions); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	live := len(f.idToIntID)
	if k <= 0 || live == 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	n := k + 1 + (ntotal - live)
	for {
		if n > ntotal {
			n = ntotal
		}
		results, err := f.searchN(query, n)
		if err != nil {
			return nil, err
		}
		SortResults(results)
		if n >= ntotal || boundarySettled(results, k, len(results), live) && len(results) > k {
			if len(results) > k {
				results = results[:k]
			}
			return results, nil
		}
		n *= 2
	}
}

func (f *FAISSIndex) searchN(query []float32, n int) ([]*VectorResult, error) {
	distances := make([]float32, n)
	labels := make([]int64, n)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	results := make([]*VectorResult, 0, n)
	for i := 0; i < n; i++ {
		if labels[i] < 0 {
			continue
		}
		id, ok := f.intIDToID[labels[i]]
		if !ok {
			continue // tombstone
		}
		results = append(results, &VectorResult{ID: id, Score: float64(distances[i])})
	}
	return results, nil
}

// Remove drops the ID mappings; the rows stay behind as tombstones.
func (f *FAISSIndex) Remove(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if intID, ok := f.idToIntID[id]; ok {
			delete(f.intIDToID, intID)
			delete(f.idToIntID, id)
		}
	}
	return nil
}

// Size returns the number of live vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idToIntID)
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
