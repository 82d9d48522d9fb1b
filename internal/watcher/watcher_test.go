package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
)

const testDebounce = 50 * time.Millisecond

type recorder struct {
	exts    []string
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) Accepts(path string) bool {
	for _, e := range r.exts {
		if strings.EqualFold(filepath.Ext(path), e) {
			return true
		}
	}
	return false
}

func (r *recorder) Changed(_ context.Context, path string) {
	r.mu.Lock()
	r.changed = append(r.changed, path)
	r.mu.Unlock()
}

func (r *recorder) Removed(_ context.Context, path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

func startWatcher(t *testing.T, roots []string, h Handler) *Watcher {
	t.Helper()
	w := New(roots, h, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, nil, &recorder{exts: []string{".txt"}})

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_DebounceCollapsesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{exts: []string{".txt"}}
	startWatcher(t, []string{dir}, rec)

	path := filepath.Join(dir, "f.txt")
	for i := 0; i < 5; i++ {
		writeFile(t, path, strings.Repeat("x", i+1))
	}
	writeFile(t, filepath.Join(dir, "ignored.xyz"), "x")

	eventually(t, func() bool {
		changed, _ := rec.snapshot()
		return len(changed) > 0
	}, "expected a change callback")
	time.Sleep(3 * testDebounce)

	changed, _ := rec.snapshot()
	if len(changed) != 1 {
		t.Errorf("changed = %v, want one debounced callback", changed)
	}
	if hasSuffix(changed, "ignored.xyz") {
		t.Error("unaccepted extension reached the handler")
	}
}

func TestWatcher_RemoveAndRename(t *testing.T) {
	dir := t.TempDir()
	gone := filepath.Join(dir, "gone.txt")
	moved := filepath.Join(dir, "moved.txt")
	writeFile(t, gone, "a")
	writeFile(t, moved, "b")

	rec := &recorder{exts: []string{".txt"}}
	startWatcher(t, []string{dir}, rec)

	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(moved, filepath.Join(dir, "renamed.txt")); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		_, removed := rec.snapshot()
		return hasSuffix(removed, "gone.txt") && hasSuffix(removed, "moved.txt")
	}, "expected remove callbacks for deleted and renamed files")
	eventually(t, func() bool {
		changed, _ := rec.snapshot()
		return hasSuffix(changed, "renamed.txt")
	}, "expected the new name to be ingested")
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
		{"/tmp/a", "/tmp/ab/c.txt", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	writeFile(t, filepath.Join(dir, "ignore.xyz"), "x")
	writeFile(t, filepath.Join(dir, "clip.wav.txt"), "sidecar")

	rec := &recorder{exts: []string{".txt"}}
	w := startWatcher(t, []string{dir}, rec)
	w.SyncExistingFiles()

	changed, _ := rec.snapshot()
	if len(changed) != 1 || !strings.HasSuffix(changed[0], "a.txt") {
		t.Errorf("expected only a.txt, got %v", changed)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startWatcher(t, []string{root}, &recorder{})

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_NewDirectoryIsSynced(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{exts: []string{".txt", ".md"}}
	startWatcher(t, []string{dir}, rec)

	// Build the folder elsewhere and move it in, like a copy from a file manager.
	staging := t.TempDir()
	folder := filepath.Join(staging, "new-folder")
	writeFile(t, filepath.Join(folder, "doc1.txt"), "hello")
	writeFile(t, filepath.Join(folder, "doc2.md"), "world")
	writeFile(t, filepath.Join(folder, "level1", "deep.txt"), "deep")
	writeFile(t, filepath.Join(folder, "ignore.xyz"), "skip")
	if err := os.Rename(folder, filepath.Join(dir, "new-folder")); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		changed, _ := rec.snapshot()
		return hasSuffix(changed, "doc1.txt") && hasSuffix(changed, "doc2.md") && hasSuffix(changed, "deep.txt")
	}, "expected files of the moved-in folder to be ingested")
	changed, _ := rec.snapshot()
	if hasSuffix(changed, "ignore.xyz") {
		t.Errorf("ignore.xyz should not be ingested: %v", changed)
	}
}

func TestIngestHandler_KeepsIndexInStep(t *testing.T) {
	const dims = 32
	emb, err := embedding.New(embedding.NewHashingEncoder(dims), dims)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.Open(context.Background(), index.Config{Dimensions: dims}, emb.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = idx.Close()
		_ = emb.Close()
	})
	ing := indexer.NewIngester(idx, emb)

	dir := t.TempDir()
	startWatcher(t, []string{dir}, NewIngestHandler(ing, nil))

	path := filepath.Join(dir, "notes.md")
	writeFile(t, path, "the quarterly budget review moved to thursday")
	eventually(t, func() bool {
		_, err := idx.DocumentByPath(path)
		return err == nil
	}, "expected notes.md to be indexed")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, err := idx.DocumentByPath(path)
		return errors.Is(err, models.ErrNotFound)
	}, "expected notes.md to be removed from the index")
}

func TestIngestHandler_Accepts(t *testing.T) {
	h := NewIngestHandler(indexer.NewIngester(nil, nil, indexer.WithExtensions([]string{".wav", ".md"})), nil)
	tests := []struct {
		path string
		want bool
	}{
		{"/a/notes.md", true},
		{"/a/clip.wav", true},
		{"/a/clip.wav.json", true},
		{"/a/clip.wav.txt", true},
		{"/a/data.json", false},
		{"/a/image.png", false},
	}
	for _, tt := range tests {
		if got := h.Accepts(tt.path); got != tt.want {
			t.Errorf("Accepts(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
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
