// Package index couples the nearest-neighbour backend with the SQLite
// metadata store into one explicitly opened handle.
//
// The handle has a single writer and any number of readers. A write commits
// one SQLite transaction and only then swaps the in-memory state under the
// write lock, so a search never observes a partially applied change and a
// failed commit leaves both stores untouched.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/internal/vector"
)

const (
	// DatabaseFile is the metadata store inside the data directory.
	DatabaseFile = "shiori.db"
	// SnapshotFile is the vector snapshot inside the data directory.
	SnapshotFile = "vectors.idx"
)

var errClosed = fmt.Errorf("%w: index is closed", models.ErrIndexUnavailable)

// Config locates and shapes an index.
type Config struct {
	// DataDir holds the database and snapshot. Empty keeps everything in memory.
	DataDir    string
	Backend    string
	Dimensions int
}

// Hit is one search result.
type Hit struct {
	Fragment models.Fragment
	Path     string
	Score    float64
}

// Stats summarizes the index state.
type Stats struct {
	Documents           int    `json:"documents"`
	Fragments           int    `json:"fragments"`
	Dimensions          int    `json:"dimensions"`
	Backend             string `json:"backend"`
	Fingerprint         string `json:"fingerprint"`
	Generation          uint64 `json:"generation"`
	PersistedGeneration uint64 `json:"persisted_generation"`
}

// Option configures Open.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithSnapshotRecovery rebuilds the vectors from the database when the
// snapshot is damaged instead of failing with ErrIndexUnavailable.
func WithSnapshotRecovery(enabled bool) Option {
	return func(i *Index) {
		i.recoverSnapshot = enabled
	}
}

// Index is an opened fragment index.
type Index struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	store        storage.Storage
	ann          vector.VectorIndex
	entries      map[string]models.IndexEntry
	docs         map[string]*models.Document
	byPath       map[string]string
	generation   uint64
	persistedGen uint64
	closed       bool
	// broken is set when the in-memory state could not follow a committed
	// write; the handle must be reopened.
	broken error

	dims            int
	fingerprint     string
	snapshotPath    string
	recoverSnapshot bool
	logger          *zap.Logger
}

// Open opens or creates the index described by cfg for an embedder with the
// given fingerprint. An index built by a different embedder, dimension or
// on-disk format returns ErrRebuildRequired.
func Open(ctx context.Context, cfg Config, fingerprint string, opts ...Option) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("index dimensions must be positive, got %d", cfg.Dimensions)
	}
	idx := &Index{
		entries:     make(map[string]models.IndexEntry),
		docs:        make(map[string]*models.Document),
		byPath:      make(map[string]string),
		dims:        cfg.Dimensions,
		fingerprint: fingerprint,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	dbPath := ":memory:"
	if cfg.DataDir != "" {
		dbPath = filepath.Join(cfg.DataDir, DatabaseFile)
		idx.snapshotPath = filepath.Join(cfg.DataDir, SnapshotFile)
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	idx.store = store

	if err := idx.load(ctx, cfg.Backend); err != nil {
		_ = store.Close()
		if idx.ann != nil {
			_ = idx.ann.Close()
		}
		return nil, err
	}
	idx.logger.Info("index opened",
		zap.String("data_dir", cfg.DataDir),
		zap.String("backend", idx.ann.Type()),
		zap.Int("documents", len(idx.docs)),
		zap.Int("fragments", len(idx.entries)),
		zap.Uint64("generation", idx.generation))
	return idx, nil
}

func (i *Index) load(ctx context.Context, backend string) error {
	if err := i.checkMeta(ctx); err != nil {
		return err
	}
	gen, err := i.store.Generation(ctx)
	if err != nil {
		return err
	}
	i.generation = gen

	docs, err := i.store.ListDocuments(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, d := range docs {
		i.docs[d.ID] = d
		i.byPath[d.Path] = d.ID
	}
	var ids []string
	if err := i.store.LoadEntries(ctx, func(e models.IndexEntry) error {
		if len(e.Vector) != i.dims {
			return fmt.Errorf("%w: stored vector %s has %d dimensions, expected %d",
				models.ErrRebuildRequired, e.Fragment.ID, len(e.Vector), i.dims)
		}
		i.entries[e.Fragment.ID] = e
		ids = append(ids, e.Fragment.ID)
		return nil
	}); err != nil {
		return err
	}

	if err := i.applySnapshot(); err != nil {
		return err
	}

	ann, err := vector.NewVectorIndex(backend, i.dims)
	if err != nil {
		return err
	}
	i.ann = ann
	vecs := make([][]float32, len(ids))
	for n, id := range ids {
		vecs[n] = i.entries[id].Vector
	}
	if err := ann.Upsert(ctx, ids, vecs); err != nil {
		return fmt.Errorf("%w: build %s index: %v", models.ErrIndexUnavailable, ann.Type(), err)
	}
	return nil
}

// checkMeta compares the stored fingerprint and dimensions with this build
// and records them on a fresh database.
func (i *Index) checkMeta(ctx context.Context) error {
	fp, ok, err := i.store.GetMeta(ctx, storage.MetaFingerprint)
	if err != nil {
		return err
	}
	if ok && fp != i.fingerprint {
		return fmt.Errorf("%w: index built with embedder %q, current embedder is %q",
			models.ErrRebuildRequired, fp, i.fingerprint)
	}
	dims, ok, err := i.store.GetMeta(ctx, storage.MetaDimensions)
	if err != nil {
		return err
	}
	if ok && dims != strconv.Itoa(i.dims) {
		return fmt.Errorf("%w: index has %s dimensions, expected %d", models.ErrRebuildRequired, dims, i.dims)
	}
	if err := i.store.SetMeta(ctx, storage.MetaFingerprint, i.fingerprint); err != nil {
		return err
	}
	return i.store.SetMeta(ctx, storage.MetaDimensions, strconv.Itoa(i.dims))
}

// applySnapshot replaces database vectors with snapshot vectors when the
// snapshot was taken at the current generation. Both hold the same bits;
// the snapshot also proves the last persist completed.
func (i *Index) applySnapshot() error {
	if i.snapshotPath == "" {
		i.persistedGen = i.generation
		return nil
	}
	snap, err := vector.ReadSnapshot(i.snapshotPath)
	switch {
	case errors.Is(err, vector.ErrNoSnapshot):
		if len(i.entries) > 0 {
			i.logger.Info("no vector snapshot, using database vectors")
		}
		return nil
	case errors.Is(err, models.ErrIndexUnavailable) && i.recoverSnapshot:
		i.logger.Warn("vector snapshot damaged, rebuilding from database", zap.Error(err))
		return nil
	case err != nil:
		return err
	}

	if snap.Fingerprint != i.fingerprint || snap.Dimensions != i.dims {
		return fmt.Errorf("%w: snapshot built with embedder %q (%d dims)",
			models.ErrRebuildRequired, snap.Fingerprint, snap.Dimensions)
	}
	if snap.Generation != i.generation || len(snap.IDs) != len(i.entries) {
		i.logger.Info("vector snapshot is stale, rebuilding from database",
			zap.Uint64("snapshot_generation", snap.Generation),
			zap.Uint64("generation", i.generation))
		return nil
	}
	for n, id := range snap.IDs {
		e, ok := i.entries[id]
		if !ok {
			i.logger.Warn("vector snapshot does not match database, rebuilding", zap.String("fragment_id", id))
			return nil
		}
		e.Vector = snap.Vectors[n]
		i.entries[id] = e
	}
	i.persistedGen = snap.Generation
	return nil
}

// validateEntry checks an entry before anything is written.
func (i *Index) validateEntry(e models.IndexEntry) error {
	f := e.Fragment
	if f.ID == "" || f.DocumentID == "" {
		return fmt.Errorf("fragment id and document id are required")
	}
	if len(e.Vector) != i.dims {
		return fmt.Errorf("%w: fragment %s has %d dimensions, expected %d",
			models.ErrDimensionMismatch, f.ID, len(e.Vector), i.dims)
	}
	var zero = true
	for _, x := range e.Vector {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: fragment %s has a non-finite vector", models.ErrEmbeddingFailed, f.ID)
		}
		if x != 0 {
			zero = false
		}
	}
	if zero {
		return fmt.Errorf("%w: fragment %s has a zero vector", models.ErrEmbeddingFailed, f.ID)
	}
	return f.Locator.Validate()
}

func (i *Index) writable() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return errClosed
	}
	return i.broken
}

// Upsert inserts or replaces a single fragment.
func (i *Index) Upsert(ctx context.Context, entry models.IndexEntry) error {
	if err := i.validateEntry(entry); err != nil {
		return err
	}
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.writable(); err != nil {
		return err
	}

	commit, err := i.store.UpsertFragments(ctx, []models.IndexEntry{entry})
	if err != nil {
		return err
	}
	return i.apply(ctx, commit, nil, "", []models.IndexEntry{entry})
}

// UpsertBatch commits doc with all of its fragments, superseding any
// document previously stored under the same ID or path.
func (i *Index) UpsertBatch(ctx context.Context, doc *models.Document, entries []models.IndexEntry) error {
	if doc == nil || doc.ID == "" || doc.Path == "" {
		return fmt.Errorf("document id and path are required")
	}
	for _, e := range entries {
		if err := i.validateEntry(e); err != nil {
			return err
		}
		if e.Fragment.DocumentID != doc.ID {
			return fmt.Errorf("fragment %s does not belong to document %s", e.Fragment.ID, doc.ID)
		}
	}
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.writable(); err != nil {
		return err
	}

	commit, err := i.store.CommitDocument(ctx, doc, entries)
	if err != nil {
		return err
	}
	stored := *doc
	return i.apply(ctx, commit, &stored, "", entries)
}

// Remove deletes one fragment.
func (i *Index) Remove(ctx context.Context, fragmentID string) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.writable(); err != nil {
		return err
	}
	commit, err := i.store.DeleteFragment(ctx, fragmentID)
	if err != nil {
		return err
	}
	return i.apply(ctx, commit, nil, "", nil)
}

// RemoveByDocument deletes a document and every one of its fragments, or
// nothing at all.
func (i *Index) RemoveByDocument(ctx context.Context, documentID string) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.writable(); err != nil {
		return err
	}
	commit, err := i.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return err
	}
	return i.apply(ctx, commit, nil, documentID, nil)
}

// apply mirrors a committed write into memory under the write lock. Readers
// see the catalogue and the vectors change together.
func (i *Index) apply(ctx context.Context, commit *storage.Commit, doc *models.Document, removedDoc string, added []models.IndexEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if d, ok := i.docs[removedDoc]; ok {
		delete(i.byPath, d.Path)
		delete(i.docs, removedDoc)
	}

	i.generation = commit.Generation
	if len(commit.Removed) > 0 {
		if err := i.ann.Remove(ctx, commit.Removed); err != nil {
			return i.fail(err)
		}
		for _, id := range commit.Removed {
			delete(i.entries, id)
		}
	}
	if doc != nil {
		if oldID, ok := i.byPath[doc.Path]; ok {
			delete(i.docs, oldID)
		}
		if old, ok := i.docs[doc.ID]; ok {
			delete(i.byPath, old.Path)
		}
		i.docs[doc.ID] = doc
		i.byPath[doc.Path] = doc.ID
	}
	if len(added) == 0 {
		return nil
	}

	ids := make([]string, len(added))
	vecs := make([][]float32, len(added))
	for n, e := range added {
		e.Vector = append([]float32(nil), e.Vector...)
		ids[n] = e.Fragment.ID
		vecs[n] = e.Vector
		i.entries[e.Fragment.ID] = e
		if _, ok := i.docs[e.Fragment.DocumentID]; !ok {
			i.docs[e.Fragment.DocumentID] = &models.Document{
				ID:       e.Fragment.DocumentID,
				Path:     e.Path,
				Modality: e.Fragment.Modality,
			}
			i.byPath[e.Path] = e.Fragment.DocumentID
		}
	}
	if err := i.ann.Upsert(ctx, ids, vecs); err != nil {
		return i.fail(err)
	}
	return nil
}

func (i *Index) fail(err error) error {
	i.broken = fmt.Errorf("%w: in-memory index diverged from database: %v", models.ErrIndexUnavailable, err)
	i.logger.Error("index must be reopened", zap.Error(err))
	return i.broken
}

// Search returns the k fragments nearest to query by descending score, ties
// broken by ascending fragment ID. An empty index returns no hits.
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != i.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", models.ErrDimensionMismatch, len(query), i.dims)
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, errClosed
	}
	if i.broken != nil {
		return nil, i.broken
	}
	if k <= 0 || len(i.entries) == 0 {
		return []Hit{}, nil
	}

	results, err := i.ann.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		e, ok := i.entries[r.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Fragment: e.Fragment, Path: e.Path, Score: r.Score})
	}
	return hits, nil
}

// Persist writes the vector snapshot for the current generation. The
// database is already durable after every commit.
func (i *Index) Persist(ctx context.Context) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.writable(); err != nil {
		return err
	}
	return i.persistLocked()
}

func (i *Index) persistLocked() error {
	if i.snapshotPath == "" {
		return nil
	}
	i.mu.RLock()
	snap := &vector.Snapshot{
		Dimensions:  i.dims,
		Generation:  i.generation,
		Fingerprint: i.fingerprint,
		IDs:         make([]string, 0, len(i.entries)),
	}
	for id := range i.entries {
		snap.IDs = append(snap.IDs, id)
	}
	sort.Strings(snap.IDs)
	snap.Vectors = make([][]float32, len(snap.IDs))
	for n, id := range snap.IDs {
		snap.Vectors[n] = i.entries[id].Vector
	}
	i.mu.RUnlock()

	if err := vector.WriteSnapshot(i.snapshotPath, snap); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndexUnavailable, err)
	}
	i.mu.Lock()
	i.persistedGen = snap.Generation
	i.mu.Unlock()
	i.logger.Debug("vector snapshot written",
		zap.Int("fragments", len(snap.IDs)),
		zap.Uint64("generation", snap.Generation))
	return nil
}

// Close persists unsaved changes and releases the stores.
func (i *Index) Close() error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	i.mu.RLock()
	closed, dirty := i.closed, i.generation != i.persistedGen && i.broken == nil
	i.mu.RUnlock()
	if closed {
		return nil
	}
	var errs []error
	if dirty {
		errs = append(errs, i.persistLocked())
	}
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	errs = append(errs, i.ann.Close(), i.store.Close())
	return errors.Join(errs...)
}

// Stats returns document and fragment counts and the persisted state.
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Stats{
		Documents:           len(i.docs),
		Fragments:           len(i.entries),
		Dimensions:          i.dims,
		Backend:             i.ann.Type(),
		Fingerprint:         i.fingerprint,
		Generation:          i.generation,
		PersistedGeneration: i.persistedGen,
	}
}

// Dimensions returns the vector dimension D.
func (i *Index) Dimensions() int {
	return i.dims
}

// Fragment returns a stored fragment and its document path. The vector is
// not included.
func (i *Index) Fragment(id string) (models.IndexEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.entries[id]
	if !ok {
		return models.IndexEntry{}, fmt.Errorf("%w: fragment %s", models.ErrNotFound, id)
	}
	e.Vector = nil
	return e, nil
}

// DocumentFragments returns the fragments of a document in sequence order.
func (i *Index) DocumentFragments(documentID string) []models.Fragment {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var out []models.Fragment
	for _, e := range i.entries {
		if e.Fragment.DocumentID == documentID {
			out = append(out, e.Fragment)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out
}

// Document returns a document by ID.
func (i *Index) Document(id string) (*models.Document, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

// DocumentByPath returns the document ingested from an absolute path.
func (i *Index) DocumentByPath(path string) (*models.Document, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.byPath[path]
	if !ok {
		return nil, fmt.Errorf("%w: document at %s", models.ErrNotFound, path)
	}
	cp := *i.docs[id]
	return &cp, nil
}

// Documents returns all documents ordered by path.
func (i *Index) Documents() []*models.Document {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*models.Document, 0, len(i.docs))
	for _, d := range i.docs {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	return out
}

// ForEachFragment calls fn for every fragment in ascending ID order until fn
// returns false.
func (i *Index) ForEachFragment(fn func(f models.Fragment, path string) bool) {
	i.mu.RLock()
	ids := make([]string, 0, len(i.entries))
	for id := range i.entries {
		ids = append(ids, id)
	}
	i.mu.RUnlock()
	sort.Strings(ids)
	for _, id := range ids {
		i.mu.RLock()
		e, ok := i.entries[id]
		i.mu.RUnlock()
		if ok && !fn(e.Fragment, e.Path) {
			return
		}
	}
}

// Reset deletes the database and snapshot under dataDir so the next Open
// starts empty. Used to recover from ErrRebuildRequired.
func Reset(dataDir string) error {
	var errs []error
	for _, name := range []string{DatabaseFile, DatabaseFile + "-wal", DatabaseFile + "-shm", SnapshotFile} {
		if err := os.Remove(filepath.Join(dataDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
