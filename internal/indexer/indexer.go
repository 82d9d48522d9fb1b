package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shiori/internal/extract"
	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
)

// Ingest defaults.
const (
	DefaultWorkers     = 4
	DefaultCommitEvery = 50
	keywordBatchSize   = 500
)

// Outcome of ingesting one file.
const (
	StatusIndexed = "indexed"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusRemoved = "removed"
)

// ErrUnsupportedFile means the file's extension is not ingested.
var ErrUnsupportedFile = errors.New("unsupported file")

// Target is the index the ingester writes to.
type Target interface {
	UpsertBatch(ctx context.Context, doc *models.Document, entries []models.IndexEntry) error
	RemoveByDocument(ctx context.Context, documentID string) error
	DocumentByPath(path string) (*models.Document, error)
	ForEachFragment(fn func(f models.Fragment, path string) bool)
	Persist(ctx context.Context) error
	Stats() index.Stats
}

// FragmentEmbedder embeds fragments in input order.
type FragmentEmbedder interface {
	EmbedFragments(ctx context.Context, frags []models.Fragment) ([][]float32, error)
}

// ContentExtractor turns a file into chunkable content.
type ContentExtractor interface {
	Extract(path string) (*models.Content, error)
}

// FileResult describes what happened to one file.
type FileResult struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id,omitempty"`
	Status     string `json:"status"`
	Fragments  int    `json:"fragments"`
}

// FileError is a per-file failure in a batch.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

// MarshalJSON renders the error as text.
func (e *FileError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}{e.Path, e.Err.Error()})
}

// Report summarizes a directory ingest. A failed file never aborts the batch.
type Report struct {
	Indexed   []string      `json:"indexed"`
	Skipped   []string      `json:"skipped"`
	Failed    []*FileError  `json:"failed"`
	Fragments int           `json:"fragments"`
	Duration  time.Duration `json:"duration_ns"`
}

// Ingester extracts, chunks, embeds and commits files into the index.
type Ingester struct {
	index       Target
	embedder    FragmentEmbedder
	extractor   ContentExtractor
	chunker     *Chunker
	keyword     keyword.KeywordIndex
	extensions  map[string]struct{}
	workers     int
	commitEvery int
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	pending int
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithLogger sets a logger for debug output (file indexed, document deleted, etc.).
func WithLogger(l *zap.Logger) IngesterOption {
	return func(ing *Ingester) {
		if l != nil {
			ing.logger = l
		}
	}
}

// WithMetrics records ingest metrics.
func WithMetrics(m *metrics.Metrics) IngesterOption {
	return func(ing *Ingester) { ing.metrics = m }
}

// WithKeywordIndex mirrors committed fragments into a keyword index.
func WithKeywordIndex(kw keyword.KeywordIndex) IngesterOption {
	return func(ing *Ingester) { ing.keyword = kw }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e ContentExtractor) IngesterOption {
	return func(ing *Ingester) {
		if e != nil {
			ing.extractor = e
		}
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c *Chunker) IngesterOption {
	return func(ing *Ingester) {
		if c != nil {
			ing.chunker = c
		}
	}
}

// WithExtensions restricts ingestion to the listed extensions (with or
// without the leading dot, any case). Empty means every supported extension.
func WithExtensions(exts []string) IngesterOption {
	return func(ing *Ingester) {
		if len(exts) == 0 {
			return
		}
		ing.extensions = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			ing.extensions["."+strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
		}
	}
}

// WithWorkers bounds how many files are processed at once.
func WithWorkers(n int) IngesterOption {
	return func(ing *Ingester) {
		if n > 0 {
			ing.workers = n
		}
	}
}

// WithCommitEvery sets how many committed documents trigger a snapshot.
func WithCommitEvery(n int) IngesterOption {
	return func(ing *Ingester) {
		if n > 0 {
			ing.commitEvery = n
		}
	}
}

// NewIngester creates an ingester writing to idx.
func NewIngester(idx Target, emb FragmentEmbedder, opts ...IngesterOption) *Ingester {
	ing := &Ingester{
		index:       idx,
		embedder:    emb,
		extractor:   extract.NewExtractor(),
		workers:     DefaultWorkers,
		commitEvery: DefaultCommitEvery,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	if ing.chunker == nil {
		// Defaults always validate.
		ing.chunker, _ = NewChunker()
	}
	if ing.extensions == nil {
		ing.extensions = make(map[string]struct{})
		for _, e := range extract.SupportedExtensions() {
			ing.extensions[e] = struct{}{}
		}
	}
	return ing
}

// Accepts reports whether path would be ingested by a directory walk.
func (ing *Ingester) Accepts(path string) bool {
	if extract.IsSidecar(path) {
		return false
	}
	_, ok := ing.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IngestFile ingests one file. An unchanged file (same path and content hash,
// sidecars included) is skipped; a changed one supersedes its previous
// document in a single commit. A transcript or OCR sidecar re-ingests the
// file it belongs to.
func (ing *Ingester) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	start := time.Now()
	res, err := ing.ingestFile(ctx, path)
	if err != nil {
		ing.metrics.FileIngested(StatusFailed, time.Since(start))
		ing.logger.Debug("ingest failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	ing.metrics.FileIngested(res.Status, time.Since(start))
	ing.logger.Debug("ingest finished",
		zap.String("path", res.Path),
		zap.String("status", res.Status),
		zap.Int("fragments", res.Fragments),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (ing *Ingester) ingestFile(ctx context.Context, path string) (*FileResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if extract.IsSidecar(absPath) {
		absPath = strings.TrimSuffix(absPath, filepath.Ext(absPath))
	}
	if _, ok := ing.extensions[strings.ToLower(filepath.Ext(absPath))]; !ok {
		return nil, fmt.Errorf("%w: extension %q not in allowed list", ErrUnsupportedFile, filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := hashWithSidecars(absPath)
	if err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}
	previous, err := ing.index.DocumentByPath(absPath)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if previous != nil && previous.ContentHash == hash {
		return &FileResult{Path: absPath, DocumentID: previous.ID, Status: StatusSkipped}, nil
	}

	content, err := ing.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	docID := fileid.DocumentID(absPath, hash)
	frags, err := ing.chunker.Chunk(docID, content)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	var vecs [][]float32
	if len(frags) > 0 {
		if vecs, err = ing.embedder.EmbedFragments(ctx, EmbeddingInput(frags)); err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
	}
	entries := make([]models.IndexEntry, len(frags))
	for i := range frags {
		entries[i] = models.IndexEntry{Fragment: frags[i], Vector: vecs[i], Path: absPath}
	}
	doc := &models.Document{
		ID:          docID,
		Path:        absPath,
		Modality:    content.Modality,
		ContentHash: hash,
		Size:        info.Size(),
		ModTime:     info.ModTime().UTC(),
		IngestedAt:  time.Now().UTC(),
		Metadata:    content.Metadata,
	}
	if err := ing.index.UpsertBatch(ctx, doc, entries); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if ing.keyword != nil {
		if previous != nil {
			ing.keywordOp("delete", ing.keyword.DeleteDocument(ctx, previous.ID))
		}
		ing.keywordOp("index", ing.keyword.IndexFragments(ctx, entries))
	}
	ing.committed(ctx)
	return &FileResult{Path: absPath, DocumentID: docID, Status: StatusIndexed, Fragments: len(entries)}, nil
}

// keywordOp logs keyword index failures. The keyword index is a side index
// rebuilt by ReindexKeywords, so a failure there never fails the commit.
func (ing *Ingester) keywordOp(op string, err error) {
	if err != nil {
		ing.logger.Warn("keyword index "+op+" failed", zap.Error(err))
	}
}

// hashWithSidecars hashes the file followed by any transcript or OCR sidecar.
func hashWithSidecars(path string) (string, error) {
	var readers []io.Reader
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	readers = append(readers, f)
	if m, ok := extract.ModalityOf(filepath.Ext(path)); ok && m != models.ModalityDocument {
		for _, ext := range []string{".json", ".txt"} {
			data, err := os.ReadFile(path + ext)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return "", err
			}
			readers = append(readers, bytes.NewReader([]byte(ext)), bytes.NewReader(data))
		}
	}
	return fileid.ContentHash(io.MultiReader(readers...))
}

// committed counts a commit and persists a snapshot every commitEvery commits.
func (ing *Ingester) committed(ctx context.Context) {
	ing.mu.Lock()
	ing.pending++
	due := ing.pending >= ing.commitEvery
	if due {
		ing.pending = 0
	}
	ing.mu.Unlock()

	stats := ing.index.Stats()
	ing.metrics.SetIndexSize(stats.Documents, stats.Fragments)
	if due {
		if err := ing.index.Persist(ctx); err != nil {
			ing.logger.Warn("snapshot failed", zap.Error(err))
		}
	}
}

// Flush persists a snapshot if any commit happened since the last one.
func (ing *Ingester) Flush(ctx context.Context) error {
	ing.mu.Lock()
	pending := ing.pending
	ing.pending = 0
	ing.mu.Unlock()
	if pending == 0 {
		return nil
	}
	return ing.index.Persist(ctx)
}

// IngestDirectory walks dir recursively and ingests every accepted file with
// a bounded pool of workers. Hidden directories are not entered. Per-file
// failures are collected in the report; only a walk error or cancellation is
// returned as an error.
func (ing *Ingester) IngestDirectory(ctx context.Context, dir string) (*Report, error) {
	start := time.Now()
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ing.Accepts(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", absDir, err)
	}

	report := &Report{Indexed: []string{}, Skipped: []string{}, Failed: []*FileError{}}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(ing.workers)
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := ing.IngestFile(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed = append(report.Failed, &FileError{Path: path, Err: err})
			case res.Status == StatusSkipped:
				report.Skipped = append(report.Skipped, res.Path)
			default:
				report.Indexed = append(report.Indexed, res.Path)
				report.Fragments += res.Fragments
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Indexed)
	sort.Strings(report.Skipped)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Path < report.Failed[j].Path })
	if err := ing.Flush(ctx); err != nil {
		ing.logger.Warn("snapshot failed", zap.Error(err))
	}
	report.Duration = time.Since(start)
	ing.logger.Info("directory ingested",
		zap.String("dir", absDir),
		zap.Int("indexed", len(report.Indexed)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("took", report.Duration))
	return report, ctx.Err()
}

// RemoveFile removes the document ingested from path.
func (ing *Ingester) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	doc, err := ing.index.DocumentByPath(absPath)
	if err != nil {
		return err
	}
	return ing.RemoveDocument(ctx, doc.ID)
}

// RemoveDocument removes a document and all of its fragments.
func (ing *Ingester) RemoveDocument(ctx context.Context, id string) error {
	if err := ing.index.RemoveByDocument(ctx, id); err != nil {
		return err
	}
	if ing.keyword != nil {
		ing.keywordOp("delete", ing.keyword.DeleteDocument(ctx, id))
	}
	ing.committed(ctx)
	ing.metrics.FileIngested(StatusRemoved, 0)
	ing.logger.Debug("document removed", zap.String("id", id))
	return nil
}

// ReindexKeywords writes every fragment of the index into the keyword index.
// It returns the number of fragments written.
func (ing *Ingester) ReindexKeywords(ctx context.Context) (int, error) {
	if ing.keyword == nil {
		return 0, nil
	}
	var (
		batch []models.IndexEntry
		total int
		err   error
	)
	flush := func() {
		if err == nil && len(batch) > 0 {
			err = ing.keyword.IndexFragments(ctx, batch)
			total += len(batch)
			batch = batch[:0]
		}
	}
	ing.index.ForEachFragment(func(f models.Fragment, path string) bool {
		batch = append(batch, models.IndexEntry{Fragment: f, Path: path})
		if len(batch) >= keywordBatchSize {
			flush()
		}
		return err == nil && ctx.Err() == nil
	})
	flush()
	if err != nil {
		return total, err
	}
	return total, ctx.Err()
}
