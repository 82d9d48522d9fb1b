package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiori/internal/models"
)

func entry(id, docID, path string, m models.Modality, text string) models.IndexEntry {
	return models.IndexEntry{
		Fragment: models.Fragment{ID: id, DocumentID: docID, Modality: m, Text: text},
		Path:     path,
	}
}

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "keyword"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	err := idx.IndexFragments(ctx, []models.IndexEntry{
		entry("doc:a#00000", "doc:a", "/docs/Monthly Report 17.docx", models.ModalityDocument,
			"This report mentions Omnisyan and other findings. The Bayes app is also referenced."),
		entry("doc:a#00001", "doc:a", "/docs/Monthly Report 17.docx", models.ModalityDocument,
			"Appendix with nothing of note."),
	})
	if err != nil {
		t.Fatalf("IndexFragments: %v", err)
	}

	results, err := idx.Search(ctx, "Omnisyan", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one hit for \"Omnisyan\", got %d", len(results))
	}
	got := results[0]
	if got.ID != "doc:a#00000" || got.DocumentID != "doc:a" || got.Path != "/docs/Monthly Report 17.docx" {
		t.Errorf("unexpected hit %+v", got)
	}
	if got.Modality != models.ModalityDocument {
		t.Errorf("modality = %q", got.Modality)
	}

	// Standard analyzer (no stemming) so "bayes" matches "Bayes".
	results, err = idx.Search(ctx, "bayes", 10, nil)
	if err != nil {
		t.Fatalf("Search bayes: %v", err)
	}
	if len(results) == 0 || results[0].ID != "doc:a#00000" {
		t.Errorf("expected bayes to hit the first fragment, got %+v", results)
	}
}

func TestBleveIndex_TitleBoost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	err := idx.IndexFragments(ctx, []models.IndexEntry{
		entry("doc:a#00000", "doc:a", "/docs/hyperjump_company_profile.pptx", models.ModalityDocument, "Slides about us."),
		entry("doc:b#00000", "doc:b", "/docs/notes.txt", models.ModalityDocument, "Unrelated notes."),
	})
	if err != nil {
		t.Fatalf("IndexFragments: %v", err)
	}

	results, err := idx.Search(ctx, "profile", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("text-only search should not match file names, got %d", len(results))
	}

	results, err = idx.Search(ctx, "company profile", 10, &SearchOptions{TitleBoost: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "doc:a#00000" {
		t.Errorf("expected file name hit, got %+v", results)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexFragments(ctx, []models.IndexEntry{
		entry("doc:a#00000", "doc:a", "/a.txt", models.ModalityDocument, "quarterly budget review"),
	}); err != nil {
		t.Fatalf("IndexFragments: %v", err)
	}

	results, err := idx.Search(ctx, "budgte", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("exact search should miss a typo, got %d", len(results))
	}
	results, err = idx.Search(ctx, "budgte", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("fuzzy search should match a typo, got %d", len(results))
	}
}

func TestBleveIndex_ModalityFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexFragments(ctx, []models.IndexEntry{
		entry("doc:a#00000", "doc:a", "/a.txt", models.ModalityDocument, "budget figures"),
		entry("doc:b#00000", "doc:b", "/b.wav", models.ModalityAudio, "we discussed the budget"),
		entry("doc:c#00000", "doc:c", "/c.png", models.ModalityImage, "budget chart"),
	}); err != nil {
		t.Fatalf("IndexFragments: %v", err)
	}

	results, err := idx.Search(ctx, "budget", 10, &SearchOptions{
		Modalities: []models.Modality{models.ModalityAudio, models.ModalityImage},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(results))
	}
	for _, r := range results {
		if r.Modality == models.ModalityDocument {
			t.Errorf("document hit %s passed the filter", r.ID)
		}
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestBleveIndex_OpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword")
	ctx := context.Background()

	idx1, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.IndexFragments(ctx, []models.IndexEntry{
		entry("doc:a#00000", "doc:a", "/a.txt", models.ModalityDocument, "uniqueword"),
	}); err != nil {
		t.Fatalf("IndexFragments: %v", err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex (open existing): %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()
	results, err := idx2.Search(ctx, "uniqueword", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("reopened index should keep its fragments, got %d", len(results))
	}
}

func TestBleveIndex_DeleteAndDeleteDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexFragments(ctx, []models.IndexEntry{
		entry("doc:a#00000", "doc:a", "/a.txt", models.ModalityDocument, "alpha shared"),
		entry("doc:a#00001", "doc:a", "/a.txt", models.ModalityDocument, "beta shared"),
		entry("doc:b#00000", "doc:b", "/b.txt", models.ModalityDocument, "gamma shared"),
	}); err != nil {
		t.Fatalf("IndexFragments: %v", err)
	}

	if err := idx.Delete(ctx, "doc:b#00000", "doc:missing#00000"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := idx.DocCount(); n != 2 {
		t.Errorf("DocCount after Delete = %d, want 2", n)
	}

	if err := idx.DeleteDocument(ctx, "doc:a"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	results, err := idx.Search(ctx, "shared", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}

func TestNewBleveIndex_createsDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "keyword")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	_ = idx.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("index path should exist: %v", err)
	}
}

func TestNewBleveIndex_memOnly(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	if n, err := idx.DocCount(); err != nil || n != 0 {
		t.Errorf("DocCount = %d, %v", n, err)
	}
}
