package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDoc(id, path string) *models.Document {
	return &models.Document{
		ID:          id,
		Path:        path,
		Modality:    models.ModalityDocument,
		ContentHash: "hash-" + id,
		Size:        42,
		ModTime:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		IngestedAt:  time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		Metadata:    map[string]string{"title": "T"},
	}
}

func testEntries(docID, path string, n int) []models.IndexEntry {
	entries := make([]models.IndexEntry, n)
	for i := range entries {
		entries[i] = models.IndexEntry{
			Fragment: models.Fragment{
				ID:         docID + "#0000" + string(rune('0'+i)),
				DocumentID: docID,
				Seq:        i,
				Modality:   models.ModalityDocument,
				Locator:    models.CharLocator(i*10, i*10+10, 1, 1),
				Text:       "text",
			},
			Vector: []float32{1, 0, float32(i)},
			Path:   path,
		}
	}
	return entries
}

func TestSQLiteStorage_CommitDocument(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c, err := store.CommitDocument(ctx, testDoc("d1", "/a.txt"), testEntries("d1", "/a.txt", 3))
	if err != nil {
		t.Fatal(err)
	}
	if c.Generation != 1 {
		t.Errorf("generation = %d, want 1", c.Generation)
	}
	if len(c.Removed) != 0 {
		t.Errorf("removed = %v, want none", c.Removed)
	}

	got, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != "/a.txt" || got.Metadata["title"] != "T" || got.Size != 42 {
		t.Errorf("unexpected document: %+v", got)
	}
	if !got.ModTime.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("mod time = %v", got.ModTime)
	}

	byPath, err := store.GetDocumentByPath(ctx, "/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if byPath.ID != "d1" {
		t.Errorf("by path = %s, want d1", byPath.ID)
	}

	var loaded []models.IndexEntry
	if err := store.LoadEntries(ctx, func(e models.IndexEntry) error {
		loaded = append(loaded, e)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d entries, want 3", len(loaded))
	}
	if loaded[2].Vector[2] != 2 || loaded[2].Path != "/a.txt" || loaded[2].Fragment.Locator.Chars.Start != 20 {
		t.Errorf("unexpected entry: %+v", loaded[2])
	}
}

func TestSQLiteStorage_Supersede(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.CommitDocument(ctx, testDoc("old", "/a.txt"), testEntries("old", "/a.txt", 2)); err != nil {
		t.Fatal(err)
	}
	c, err := store.CommitDocument(ctx, testDoc("new", "/a.txt"), testEntries("new", "/a.txt", 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Removed) != 2 || !strings.HasPrefix(c.Removed[0], "old#") {
		t.Errorf("removed = %v, want both old fragments", c.Removed)
	}
	if _, err := store.GetDocument(ctx, "old"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("old document should be gone, got %v", err)
	}
	n, _ := store.CountFragments(ctx)
	if n != 1 {
		t.Errorf("fragments = %d, want 1", n)
	}
}

func TestSQLiteStorage_DeleteDocument(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.CommitDocument(ctx, testDoc("d1", "/a.txt"), testEntries("d1", "/a.txt", 3)); err != nil {
		t.Fatal(err)
	}
	c, err := store.DeleteDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Removed) != 3 {
		t.Errorf("removed %d fragments, want 3", len(c.Removed))
	}
	n, _ := store.CountFragments(ctx)
	if n != 0 {
		t.Errorf("fragments after delete = %d, want 0", n)
	}

	if _, err := store.DeleteDocument(ctx, "d1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
	gen, _ := store.Generation(ctx)
	if gen != 2 {
		t.Errorf("failed delete must not bump generation, got %d", gen)
	}
}

func TestSQLiteStorage_Fragments(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entries := testEntries("d1", "/a.txt", 2)
	if _, err := store.UpsertFragments(ctx, entries); err != nil {
		t.Fatal(err)
	}
	doc, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Path != "/a.txt" {
		t.Errorf("implicit document path = %s", doc.Path)
	}

	entries[0].Fragment.Text = "replaced"
	if _, err := store.UpsertFragments(ctx, entries[:1]); err != nil {
		t.Fatal(err)
	}
	n, _ := store.CountFragments(ctx)
	if n != 2 {
		t.Errorf("upsert of existing id should replace, got %d fragments", n)
	}

	if _, err := store.DeleteFragment(ctx, entries[1].Fragment.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.DeleteFragment(ctx, entries[1].Fragment.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_Counts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n, err := store.CountDocuments(ctx)
	if err != nil || n != 0 {
		t.Errorf("CountDocuments: n=%d err=%v", n, err)
	}
	_, _ = store.CommitDocument(ctx, testDoc("d1", "/a"), nil)
	_, _ = store.CommitDocument(ctx, testDoc("d2", "/b"), testEntries("d2", "/b", 2))

	n, _ = store.CountDocuments(ctx)
	if n != 2 {
		t.Errorf("CountDocuments: got %d", n)
	}
	list, err := store.ListDocuments(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Path != "/a" {
		t.Errorf("ListDocuments: %+v", list)
	}
	list, _ = store.ListDocuments(ctx, 1, 10)
	if len(list) != 1 || list[0].ID != "d2" {
		t.Errorf("ListDocuments offset: %+v", list)
	}
}

func TestSQLiteStorage_Meta(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, _ := store.GetMeta(ctx, MetaFingerprint); ok {
		t.Error("fingerprint should be unset")
	}
	if err := store.SetMeta(ctx, MetaFingerprint, "fp1"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetMeta(ctx, MetaFingerprint, "fp2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := store.GetMeta(ctx, MetaFingerprint)
	if err != nil || !ok || v != "fp2" {
		t.Errorf("GetMeta = %q %v %v", v, ok, err)
	}
}

func TestSQLiteStorage_SchemaVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetMeta(context.Background(), MetaSchemaVersion, "0"); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	_, err = NewSQLiteStorage(path)
	if !errors.Is(err, models.ErrRebuildRequired) {
		t.Errorf("got %v, want ErrRebuildRequired", err)
	}
}

func TestSQLiteStorage_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	if err := os.WriteFile(path, []byte(strings.Repeat("not a database ", 200)), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewSQLiteStorage(path)
	if !errors.Is(err, models.ErrIndexUnavailable) {
		t.Errorf("got %v, want ErrIndexUnavailable", err)
	}
}

func TestNewSQLiteStorage_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "db.sqlite")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
