package indexer

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
)

const testDims = 64

func newTestIndex(t *testing.T, dataDir string) (*index.Index, *embedding.Embedder) {
	t.Helper()
	emb, err := embedding.New(embedding.NewHashingEncoder(testDims), testDims,
		embedding.WithVisionEncoder(embedding.NewHashingVisionEncoder(testDims)))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.Open(context.Background(), index.Config{DataDir: dataDir, Dimensions: testDims}, emb.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = idx.Close()
		_ = emb.Close()
	})
	return idx, emb
}

func testIngester(t *testing.T, opts ...IngesterOption) (*Ingester, *index.Index) {
	t.Helper()
	idx, emb := newTestIndex(t, "")
	return NewIngester(idx, emb, opts...), idx
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestAccepts(t *testing.T) {
	ing, _ := testIngester(t, WithExtensions([]string{"txt", ".MD", ".wav"}))
	tests := []struct {
		path string
		want bool
	}{
		{"/a/doc.txt", true},
		{"/a/DOC.TXT", true},
		{"/a/readme.md", true},
		{"/a/main.go", false},
		{"/a/noext", false},
		{"/a/call.wav", true},
		{"/a/call.wav.txt", false},
	}
	for _, tt := range tests {
		if got := ing.Accepts(tt.path); got != tt.want {
			t.Errorf("Accepts(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIngestFile_createSkipAndUpdate(t *testing.T) {
	dir := t.TempDir()
	ing, idx := testIngester(t)
	ctx := context.Background()

	path := filepath.Join(dir, "doc.txt")
	writeFile(t, path, "Hello world content.")
	res, err := ing.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusIndexed || res.Fragments != 1 {
		t.Errorf("first ingest = %+v", res)
	}
	doc, err := idx.DocumentByPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != res.DocumentID || doc.Modality != models.ModalityDocument || doc.ContentHash == "" {
		t.Errorf("unexpected doc: %+v", doc)
	}

	res, err = ing.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSkipped || res.DocumentID != doc.ID {
		t.Errorf("unchanged file should be skipped, got %+v", res)
	}

	writeFile(t, path, "Updated content.")
	res, err = ing.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusIndexed || res.DocumentID == doc.ID {
		t.Errorf("changed file should get a new document, got %+v", res)
	}
	if _, err := idx.Document(doc.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("superseded document should be gone, got %v", err)
	}
	frags := idx.DocumentFragments(res.DocumentID)
	if len(frags) != 1 || frags[0].Text != "Updated content." {
		t.Errorf("fragments after update: %+v", frags)
	}
	if st := idx.Stats(); st.Documents != 1 || st.Fragments != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestIngestFile_extensionFiltered(t *testing.T) {
	dir := t.TempDir()
	ing, _ := testIngester(t, WithExtensions([]string{".txt", ".md"}))

	path := filepath.Join(dir, "script.sh")
	writeFile(t, path, "#!/bin/bash")
	_, err := ing.IngestFile(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("expected ErrUnsupportedFile, got %v", err)
	}
}

func TestRemoveFile(t *testing.T) {
	dir := t.TempDir()
	ing, idx := testIngester(t)
	ctx := context.Background()

	path := filepath.Join(dir, "note.md")
	writeFile(t, path, "Note content.")
	if _, err := ing.IngestFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if err := ing.RemoveFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.DocumentByPath(path); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("document should be deleted, got %v", err)
	}
	if st := idx.Stats(); st.Fragments != 0 {
		t.Errorf("fragments left: %d", st.Fragments)
	}
	if err := ing.RemoveFile(ctx, path); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second remove should be ErrNotFound, got %v", err)
	}
}

func TestIngestFile_notRegularFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "folder.txt")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	ing, _ := testIngester(t)
	if _, err := ing.IngestFile(context.Background(), dir); err == nil {
		t.Error("expected error for directory")
	}
}

func TestIngestFile_nonexistent(t *testing.T) {
	ing, _ := testIngester(t)
	if _, err := ing.IngestFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIngestFile_excelSheetsCitePages(t *testing.T) {
	dir := t.TempDir()
	ing, idx := testIngester(t)

	path := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if _, err := f.NewSheet("Sheet2"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Sheet2", "A1", "Second sheet")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	res, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	frags := idx.DocumentFragments(res.DocumentID)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments", len(frags))
	}
	loc := frags[0].Locator
	if loc.Kind != models.LocatorChars || loc.Chars.PageStart != 1 || loc.Chars.PageEnd != 2 {
		t.Errorf("locator = %+v", loc)
	}
}

func TestIngestFile_audioAndSidecarChange(t *testing.T) {
	dir := t.TempDir()
	ing, idx := testIngester(t)
	ctx := context.Background()

	path := filepath.Join(dir, "standup.wav")
	writeFile(t, path, "RIFF....WAVE")
	writeFile(t, path+".json", `{"transcription":[{"offsets":{"from":0,"to":4000},"text":" budget review today"}]}`)

	res, err := ing.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	frags := idx.DocumentFragments(res.DocumentID)
	if len(frags) != 1 || frags[0].Modality != models.ModalityAudio {
		t.Fatalf("fragments = %+v", frags)
	}
	if frags[0].Locator.Time == nil || frags[0].Locator.Time.End != 4 {
		t.Errorf("locator = %+v", frags[0].Locator)
	}

	// Editing the transcript alone changes the document.
	writeFile(t, path+".json", `{"transcription":[{"offsets":{"from":0,"to":5000},"text":" hiring plan"}]}`)
	res2, err := ing.IngestFile(ctx, path+".json")
	if err != nil {
		t.Fatal(err)
	}
	if res2.Status != StatusIndexed || res2.Path != path || res2.DocumentID == res.DocumentID {
		t.Errorf("sidecar change = %+v", res2)
	}
}

func TestIngestFile_emptyTranscript(t *testing.T) {
	dir := t.TempDir()
	ing, idx := testIngester(t)

	path := filepath.Join(dir, "silence.wav")
	writeFile(t, path, "RIFF")
	writeFile(t, path+".json", `{"transcription":[]}`)
	res, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusIndexed || res.Fragments != 0 {
		t.Errorf("result = %+v", res)
	}
	if _, err := idx.DocumentByPath(path); err != nil {
		t.Errorf("document without fragments should still be recorded: %v", err)
	}
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	ing, idx := testIngester(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(dir, "a.txt"), "file a")
	writeFile(t, filepath.Join(dir, "b.txt"), "file b")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "file c")
	writeFile(t, filepath.Join(dir, "skip.xyz"), "skip")
	writeFile(t, filepath.Join(dir, ".hidden", "d.txt"), "hidden")
	writeFile(t, filepath.Join(dir, "broken.png"), "not a png")
	writeFile(t, filepath.Join(dir, "broken.png.txt"), "ocr text")

	shot := filepath.Join(dir, "shot.png")
	f, err := os.Create(shot)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	report, err := ing.IngestDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if len(report.Indexed) != 4 {
		t.Errorf("indexed %v, want 4 files", report.Indexed)
	}
	if len(report.Failed) != 1 || report.Failed[0].Path != filepath.Join(dir, "broken.png") {
		t.Errorf("failed = %+v", report.Failed)
	}
	if st := idx.Stats(); st.Documents != 4 {
		t.Errorf("documents = %d", st.Documents)
	}

	report, err = ing.IngestDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if len(report.Indexed) != 0 || len(report.Skipped) != 4 {
		t.Errorf("second pass indexed=%v skipped=%v", report.Indexed, report.Skipped)
	}
}

func TestIngestDirectory_notDir(t *testing.T) {
	ing, _ := testIngester(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x")
	if _, err := ing.IngestDirectory(context.Background(), path); err == nil {
		t.Error("expected error for a file")
	}
}

func TestIngestDirectory_snapshotsEveryCommit(t *testing.T) {
	dataDir := t.TempDir()
	corpus := t.TempDir()
	idx, emb := newTestIndex(t, dataDir)
	ing := NewIngester(idx, emb, WithCommitEvery(1), WithWorkers(1))

	writeFile(t, filepath.Join(corpus, "a.txt"), "alpha")
	if _, err := ing.IngestDirectory(context.Background(), corpus); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, index.SnapshotFile)); err != nil {
		t.Errorf("snapshot should exist: %v", err)
	}
	if st := idx.Stats(); st.PersistedGeneration != st.Generation {
		t.Errorf("snapshot generation %d trails %d", st.PersistedGeneration, st.Generation)
	}
}

func TestKeywordMirror(t *testing.T) {
	dir := t.TempDir()
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	ing, _ := testIngester(t, WithKeywordIndex(kw))
	ctx := context.Background()

	path := filepath.Join(dir, "notes.txt")
	writeFile(t, path, "zeppelin launch checklist")
	if _, err := ing.IngestFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	hits, err := kw.Search(ctx, "zeppelin", 10, nil)
	if err != nil || len(hits) != 1 {
		t.Fatalf("hits = %v, %v", hits, err)
	}

	writeFile(t, path, "airship landing checklist")
	if _, err := ing.IngestFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if hits, _ := kw.Search(ctx, "zeppelin", 10, nil); len(hits) != 0 {
		t.Errorf("superseded fragments still in keyword index: %v", hits)
	}

	if err := kw.Delete(ctx, hitsID(t, kw, "airship")); err != nil {
		t.Fatal(err)
	}
	n, err := ing.ReindexKeywords(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ReindexKeywords = %d, %v", n, err)
	}
	if hits, _ := kw.Search(ctx, "airship", 10, nil); len(hits) != 1 {
		t.Errorf("reindex should restore the fragment, got %v", hits)
	}

	if err := ing.RemoveFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if n, _ := kw.DocCount(); n != 0 {
		t.Errorf("keyword index has %d fragments after remove", n)
	}
}

func hitsID(t *testing.T, kw *keyword.BleveIndex, q string) string {
	t.Helper()
	hits, err := kw.Search(context.Background(), q, 1, nil)
	if err != nil || len(hits) == 0 {
		t.Fatalf("no hit for %q: %v", q, err)
	}
	return hits[0].ID
}
