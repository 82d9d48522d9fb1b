package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. A database written by a
// different schema version yields models.ErrRebuildRequired; one that cannot be
// read yields models.ErrIndexUnavailable.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, unavailable("open database", err)
	}
	// One connection: writes are serialized by the index handle anyway and
	// per-connection pragmas stay in force.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, unavailable(pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		modality TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mod_time TIMESTAMP,
		ingested_at TIMESTAMP,
		metadata TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_path ON documents(path);

	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		modality TEXT NOT NULL,
		locator TEXT NOT NULL,
		text TEXT NOT NULL,
		payload_ref TEXT,
		vector BLOB NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_fragments_document ON fragments(document_id, seq);
	`
	if _, err := db.Exec(schema); err != nil {
		return unavailable("initialize schema", err)
	}

	var version string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, MetaSchemaVersion).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.Exec(
			`INSERT INTO meta (key, value) VALUES (?, ?), (?, '0')`,
			MetaSchemaVersion, SchemaVersion, MetaGeneration,
		)
		if err != nil {
			return unavailable("write schema version", err)
		}
		return nil
	case err != nil:
		return unavailable("read schema version", err)
	case version != SchemaVersion:
		return fmt.Errorf("%w: database schema version %s, expected %s", models.ErrRebuildRequired, version, SchemaVersion)
	}
	return nil
}

// unavailable wraps store-level failures as ErrIndexUnavailable. Corruption,
// locking and I/O failures are not caller mistakes and must never look like
// an empty result.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrIndexUnavailable, op, err)
}

// classify keeps constraint violations as plain errors and maps everything
// SQLite reports about the file itself to ErrIndexUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return unavailable(op, err)
}

// withTx runs fn in a transaction and bumps the generation on success.
func (s *SQLiteStorage) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE meta SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT) WHERE key = ?`, MetaGeneration,
	); err != nil {
		return 0, classify(op, err)
	}
	var gen string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, MetaGeneration).Scan(&gen); err != nil {
		return 0, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(op, err)
	}
	return strconv.ParseUint(gen, 10, 64)
}

// CommitDocument replaces any document with the same ID or path by doc and its entries.
func (s *SQLiteStorage) CommitDocument(ctx context.Context, doc *models.Document, entries []models.IndexEntry) (*Commit, error) {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	for _, e := range entries {
		if e.Fragment.DocumentID != doc.ID {
			return nil, fmt.Errorf("fragment %s does not belong to document %s", e.Fragment.ID, doc.ID)
		}
	}

	var removed []string
	gen, err := s.withTx(ctx, "commit document", func(tx *sql.Tx) error {
		ids, err := fragmentIDs(ctx, tx,
			`SELECT f.id FROM fragments f JOIN documents d ON d.id = f.document_id
			 WHERE d.id = ? OR d.path = ? ORDER BY f.id`, doc.ID, doc.Path)
		if err != nil {
			return err
		}
		removed = ids
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ? OR path = ?`, doc.ID, doc.Path); err != nil {
			return classify("delete superseded document", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, path, modality, content_hash, size, mod_time, ingested_at, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.Path, string(doc.Modality), doc.ContentHash, doc.Size, doc.ModTime, doc.IngestedAt, string(metadataJSON),
		); err != nil {
			return classify("insert document", err)
		}
		return insertFragments(ctx, tx, entries)
	})
	if err != nil {
		return nil, err
	}
	return &Commit{Generation: gen, Removed: removed}, nil
}

// UpsertFragments inserts or replaces individual fragments.
func (s *SQLiteStorage) UpsertFragments(ctx context.Context, entries []models.IndexEntry) (*Commit, error) {
	gen, err := s.withTx(ctx, "upsert fragments", func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO documents (id, path, modality, content_hash, metadata)
				 VALUES (?, ?, ?, '', 'null')`,
				e.Fragment.DocumentID, e.Path, string(e.Fragment.Modality),
			); err != nil {
				return classify("insert owning document", err)
			}
		}
		return insertFragments(ctx, tx, entries)
	})
	if err != nil {
		return nil, err
	}
	return &Commit{Generation: gen}, nil
}

func insertFragments(ctx context.Context, tx *sql.Tx, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO fragments (id, document_id, seq, modality, locator, text, payload_ref, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classify("prepare fragment insert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		f := e.Fragment
		loc, err := f.Locator.Encode()
		if err != nil {
			return fmt.Errorf("fragment %s: %w", f.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			f.ID, f.DocumentID, f.Seq, string(f.Modality), loc, f.Text, f.PayloadRef, vector.EncodeVector(e.Vector),
		); err != nil {
			return classify("insert fragment", err)
		}
	}
	return nil
}

func fragmentIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list fragment ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan fragment id", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("list fragment ids", rows.Err())
}

// DeleteFragment removes a single fragment.
func (s *SQLiteStorage) DeleteFragment(ctx context.Context, id string) (*Commit, error) {
	gen, err := s.withTx(ctx, "delete fragment", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE id = ?`, id)
		if err != nil {
			return classify("delete fragment", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: fragment %s", models.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Commit{Generation: gen, Removed: []string{id}}, nil
}

// DeleteDocument removes a document; its fragments go with it through the cascade.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) (*Commit, error) {
	var removed []string
	gen, err := s.withTx(ctx, "delete document", func(tx *sql.Tx) error {
		ids, err := fragmentIDs(ctx, tx, `SELECT id FROM fragments WHERE document_id = ? ORDER BY id`, id)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return classify("delete document", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
		}
		removed = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Commit{Generation: gen, Removed: removed}, nil
}

const documentColumns = `id, path, modality, content_hash, size, mod_time, ingested_at, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var modality string
	var modTime, ingestedAt sql.NullTime
	var metadataJSON sql.NullString

	if err := row.Scan(&doc.ID, &doc.Path, &modality, &doc.ContentHash, &doc.Size, &modTime, &ingestedAt, &metadataJSON); err != nil {
		return nil, err
	}
	doc.Modality = models.Modality(modality)
	doc.ModTime = modTime.Time
	doc.IngestedAt = ingestedAt.Time
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, classify("get document", err)
	}
	return doc, nil
}

// GetDocumentByPath returns the document ingested from path.
func (s *SQLiteStorage) GetDocumentByPath(ctx context.Context, path string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document at %s", models.ErrNotFound, path)
	}
	if err != nil {
		return nil, classify("get document by path", err)
	}
	return doc, nil
}

// ListDocuments returns documents ordered by path. A limit <= 0 returns all of them.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY path LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classify("list documents", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, classify("scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, classify("list documents", rows.Err())
}

// LoadEntries streams all fragments with vectors and owning paths, ordered by fragment ID.
func (s *SQLiteStorage) LoadEntries(ctx context.Context, fn func(models.IndexEntry) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.document_id, f.seq, f.modality, f.locator, f.text, f.payload_ref, f.vector, d.path
		 FROM fragments f JOIN documents d ON d.id = f.document_id
		 ORDER BY f.id`)
	if err != nil {
		return classify("load fragments", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.IndexEntry
		var modality, locator string
		var payloadRef sql.NullString
		var blob []byte
		if err := rows.Scan(&e.Fragment.ID, &e.Fragment.DocumentID, &e.Fragment.Seq, &modality,
			&locator, &e.Fragment.Text, &payloadRef, &blob, &e.Path); err != nil {
			return classify("scan fragment", err)
		}
		e.Fragment.Modality = models.Modality(modality)
		e.Fragment.PayloadRef = payloadRef.String
		if e.Fragment.Locator, err = models.DecodeLocator(locator); err != nil {
			return unavailable("decode locator of "+e.Fragment.ID, err)
		}
		if e.Vector, err = vector.DecodeVector(blob); err != nil {
			return unavailable("decode vector of "+e.Fragment.ID, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return classify("load fragments", rows.Err())
}

// Generation returns the number of committed write transactions.
func (s *SQLiteStorage) Generation(ctx context.Context) (uint64, error) {
	v, ok, err := s.GetMeta(ctx, MetaGeneration)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

// GetMeta reads a meta value; ok is false when the key is unset.
func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("get meta", err)
	}
	return v, true, nil
}

// SetMeta writes a meta value.
func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return classify("set meta", err)
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, classify("count documents", err)
}

// CountFragments returns the total number of fragments.
func (s *SQLiteStorage) CountFragments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments").Scan(&n)
	return n, classify("count fragments", err)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
