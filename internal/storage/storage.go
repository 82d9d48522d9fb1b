// Package storage defines the metadata store behind the fragment index.
package storage

import (
	"context"

	"github.com/hyperjump/shiori/internal/models"
)

// SchemaVersion is the metadata schema this build reads and writes.
// A database carrying any other version must be rebuilt.
const SchemaVersion = "1"

// Meta keys kept in the meta table.
const (
	MetaSchemaVersion = "schema_version"
	MetaGeneration    = "generation"
	MetaFingerprint   = "fingerprint"
	MetaDimensions    = "dimensions"
)

// Commit describes the effect of one write transaction.
type Commit struct {
	// Generation is the database generation after the commit.
	Generation uint64
	// Removed lists fragment IDs deleted by the commit, including those of
	// superseded documents.
	Removed []string
}

// Storage is the durable metadata store: documents, fragments with their
// vectors, and a small key/value meta table. Every write is one transaction
// and bumps the generation counter.
type Storage interface {
	// CommitDocument replaces any document sharing doc's ID or path with doc
	// and entries, in a single transaction.
	CommitDocument(ctx context.Context, doc *models.Document, entries []models.IndexEntry) (*Commit, error)
	// UpsertFragments inserts or replaces fragments. A missing owning document
	// is created from the entry's path and modality.
	UpsertFragments(ctx context.Context, entries []models.IndexEntry) (*Commit, error)
	DeleteFragment(ctx context.Context, id string) (*Commit, error)
	// DeleteDocument removes a document and all of its fragments.
	DeleteDocument(ctx context.Context, id string) (*Commit, error)

	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByPath(ctx context.Context, path string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	// LoadEntries streams every fragment with its vector, ordered by fragment ID.
	LoadEntries(ctx context.Context, fn func(models.IndexEntry) error) error

	Generation(ctx context.Context) (uint64, error)
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	CountDocuments(ctx context.Context) (int64, error)
	CountFragments(ctx context.Context) (int64, error)
	Close() error
}
