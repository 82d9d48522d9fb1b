package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "fragments"

var errChromemNeedsVectors = errors.New("chromem index only accepts precomputed vectors")

// ChromemIndex keeps vectors in an in-memory chromem-go collection.
// chromem returns the top n in no guaranteed order among equal scores, so
// Search widens its request until the k-th score is settled and then sorts.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimensions int
	mu         sync.RWMutex
}

// NewChromemIndex creates an empty chromem-backed index.
func NewChromemIndex(dimensions int) (*ChromemIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	db := chromem.NewDB()
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errChromemNeedsVectors
	}
	col, err := db.CreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection: %w", err)
	}
	return &ChromemIndex{db: db, collection: col, dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (c *ChromemIndex) Type() string {
	return string(IndexTypeChromem)
}

// Upsert adds documents carrying only an ID and a vector. chromem replaces
// documents with an existing ID.
func (c *ChromemIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		if err := checkDims(vectors[i], c.dimensions); err != nil {
			return err
		}
		vec := make([]float32, c.dimensions)
		copy(vec, vectors[i])
		docs[i] = chromem.Document{ID: id, Embedding: vec}
	}
	if len(docs) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem add: %w", err)
	}
	return nil
}

// Remove deletes documents by ID.
func (c *ChromemIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

// Search returns the top-k IDs in deterministic order.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDims(query, c.dimensions); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.collection.Count()
	if k <= 0 || total == 0 {
		return nil, nil
	}
	n := k + 1
	for {
		if n > total {
			n = total
		}
		docs, err := c.collection.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		results := make([]*VectorResult, len(docs))
		for i, d := range docs {
			results[i] = &VectorResult{ID: d.ID, Score: float64(d.Similarity)}
		}
		SortResults(results)
		if boundarySettled(results, k, n, total) {
			if len(results) > k {
				results = results[:k]
			}
			return results, nil
		}
		n *= 2
	}
}

// Size returns the number of stored vectors.
func (c *ChromemIndex) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Count()
}

// Close drops the collection.
func (c *ChromemIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.DeleteCollection(chromemCollection)
}
