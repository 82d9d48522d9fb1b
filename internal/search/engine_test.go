package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

const testDims = 256

type fixture struct {
	idx     *index.Index
	emb     *embedding.Embedder
	chunker *indexer.Chunker
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	emb, err := embedding.New(embedding.NewHashingEncoder(testDims), testDims,
		embedding.WithVisionEncoder(embedding.NewHashingVisionEncoder(testDims)))
	require.NoError(t, err)
	idx, err := index.Open(context.Background(), index.Config{Dimensions: testDims}, emb.Fingerprint())
	require.NoError(t, err)
	chunker, err := indexer.NewChunker()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = idx.Close()
		_ = emb.Close()
	})
	return &fixture{idx: idx, emb: emb, chunker: chunker}
}

func (f *fixture) ingest(t testing.TB, docID, path string, content *models.Content) []models.Fragment {
	t.Helper()
	ctx := context.Background()
	frags, err := f.chunker.Chunk(docID, content)
	require.NoError(t, err)
	vecs, err := f.emb.EmbedFragments(ctx, frags)
	require.NoError(t, err)
	entries := make([]models.IndexEntry, len(frags))
	for i := range frags {
		entries[i] = models.IndexEntry{Fragment: frags[i], Vector: vecs[i], Path: path}
	}
	require.NoError(t, f.idx.UpsertBatch(ctx, &models.Document{
		ID: docID, Path: path, Modality: content.Modality, ContentHash: "h-" + docID,
	}, entries))
	return frags
}

// fillerText builds exactly n characters of filler with marker placed at offset at.
func fillerText(n, at int, marker string) string {
	var b strings.Builder
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for i := 0; b.Len() < at; i++ {
		b.WriteString(words[i%len(words)])
		b.WriteString(" ")
	}
	b.WriteString(marker)
	for i := 0; b.Len() < n; i++ {
		b.WriteString(" ")
		b.WriteString(words[i%len(words)])
	}
	return b.String()[:n]
}

func TestRetrieveEndToEndDocument(t *testing.T) {
	f := newFixture(t)
	text := fillerText(2000, 1000, "zeppelin")
	frags := f.ingest(t, "doc1", "/docs/report.pdf", &models.Content{
		Modality: models.ModalityDocument,
		Text:     text,
		Pages:    []models.PageSpan{{Number: 1, Start: 0, End: 1000}, {Number: 2, Start: 1000, End: 2000}},
	})
	require.Len(t, frags, 3)
	assert.Equal(t, 650, frags[1].Locator.Chars.Start)
	assert.Equal(t, 1450, frags[1].Locator.Chars.End)

	r := NewRetriever(f.idx, f.emb)
	res, err := r.Retrieve(context.Background(), "zeppelin", 1)
	require.NoError(t, err)
	require.Len(t, res.Fragments, 1)
	assert.Equal(t, frags[1].ID, res.Fragments[0].Fragment.ID)
	assert.Equal(t, 3, res.Stats.FragmentsSearched)
	assert.NotEmpty(t, res.Stats.QueryID)

	resp, err := r.Query(context.Background(), &models.QueryRequest{Query: "zeppelin", K: 1})
	require.NoError(t, err)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, 1, resp.Citations[0].Number)
	assert.Equal(t, "pages 1–2", resp.Citations[0].Locator)
	assert.True(t, strings.HasPrefix(resp.ContextBlock, "[1] report.pdf (pages 1–2)\n"))
}

func TestRetrieveCrossModal(t *testing.T) {
	f := newFixture(t)

	words := make([]models.TimedWord, 700)
	vocab := []string{"quarterly", "review", "hiring", "plan", "offsite", "budget"}
	for i := range words {
		words[i] = models.TimedWord{Word: vocab[i%len(vocab)], Start: float64(i) * 0.5, End: float64(i)*0.5 + 0.4}
	}
	audio := f.ingest(t, "aud", "/rec/standup.wav", &models.Content{Modality: models.ModalityAudio, Words: words})
	require.Len(t, audio, 2)

	payload := filepath.Join(t.TempDir(), "dash.png")
	require.NoError(t, os.WriteFile(payload, []byte("fake png payload"), 0644))
	img := f.ingest(t, "img", payload, &models.Content{
		Modality: models.ModalityImage,
		Image:    &models.ImageContent{OCRText: "dashboard metrics", PayloadRef: payload, Width: 1280, Height: 720},
	})
	require.Len(t, img, 1)

	r := NewRetriever(f.idx, f.emb)
	resp, err := r.Query(context.Background(), &models.QueryRequest{Query: "dashboard", K: 3})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(resp.Fragments), 2)
	assert.Equal(t, img[0].ID, resp.Fragments[0].Fragment.ID)
	assert.Equal(t, models.ModalityAudio, resp.Fragments[1].Fragment.Modality)

	assert.Equal(t, payload+" (1280x720)", resp.Citations[0].Locator)
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}–\d{2}:\d{2}:\d{2}$`, resp.Citations[1].Locator)
}

// stubSearcher returns fixed hits.
type stubSearcher struct {
	hits []index.Hit
	err  error
}

func (s *stubSearcher) Search(ctx context.Context, q []float32, k int) ([]index.Hit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if k > len(s.hits) {
		k = len(s.hits)
	}
	return s.hits[:k], nil
}

func (s *stubSearcher) Stats() index.Stats {
	return index.Stats{Fragments: len(s.hits)}
}

type stubEmbedder struct {
	err   error
	delay time.Duration
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	v := []float32{1, 0}
	utils.NormalizeL2(v)
	return v, nil
}

func hit(doc string, seq int, mod models.Modality, loc models.Locator, score float64) index.Hit {
	return index.Hit{
		Fragment: models.Fragment{
			ID:         fmt.Sprintf("%s#%05d", doc, seq),
			DocumentID: doc,
			Seq:        seq,
			Modality:   mod,
			Locator:    loc,
			Text:       "text",
		},
		Path:  "/" + doc,
		Score: score,
	}
}

func TestRetrieveDeduplicatesOverlaps(t *testing.T) {
	s := &stubSearcher{hits: []index.Hit{
		hit("a", 1, models.ModalityDocument, models.CharLocator(650, 1450, 1, 1), 0.9),
		hit("a", 0, models.ModalityDocument, models.CharLocator(0, 800, 1, 1), 0.85),
		hit("b", 0, models.ModalityDocument, models.CharLocator(0, 800, 1, 1), 0.8),
		hit("a", 3, models.ModalityDocument, models.CharLocator(1950, 2750, 2, 2), 0.7),
	}}
	r := NewRetriever(s, &stubEmbedder{})
	res, err := r.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)

	var got []string
	for _, f := range res.Fragments {
		got = append(got, f.Fragment.ID)
	}
	assert.Equal(t, []string{"a#00001", "b#00000", "a#00003"}, got)
}

func TestRetrieveWidensAfterDedup(t *testing.T) {
	var hits []index.Hit
	for i := 0; i < 8; i++ {
		// Every window of doc "a" overlaps the next one.
		hits = append(hits, hit("a", i, models.ModalityDocument, models.CharLocator(i*650, i*650+800, 1, 1), 0.9-float64(i)*0.01))
	}
	hits = append(hits, hit("b", 0, models.ModalityDocument, models.CharLocator(0, 10, 1, 1), 0.1))
	r := NewRetriever(&stubSearcher{hits: hits}, &stubEmbedder{}, WithCandidateFactor(1))

	res, err := r.Retrieve(context.Background(), "q", 4)
	require.NoError(t, err)
	require.Len(t, res.Fragments, 4)
	assert.Equal(t, "a#00000", res.Fragments[0].Fragment.ID)
	assert.Equal(t, "a#00002", res.Fragments[1].Fragment.ID)
}

func TestRetrieveHugeK(t *testing.T) {
	// Overlapping windows collapse to one, so the fetch keeps widening
	// until it has seen every fragment.
	s := &stubSearcher{hits: []index.Hit{
		hit("a", 0, models.ModalityDocument, models.CharLocator(0, 800, 1, 1), 0.9),
		hit("a", 1, models.ModalityDocument, models.CharLocator(650, 1450, 1, 1), 0.8),
		hit("a", 2, models.ModalityDocument, models.CharLocator(1300, 2100, 1, 1), 0.7),
	}}
	r := NewRetriever(s, &stubEmbedder{})

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		defer close(done)
		res, err = r.Retrieve(context.Background(), "q", math.MaxInt/2)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Retrieve did not return for a huge k")
	}
	require.NoError(t, err)
	require.Len(t, res.Fragments, 2)
	assert.Equal(t, "a#00000", res.Fragments[0].Fragment.ID)
	assert.Equal(t, 3, res.Stats.Candidates)
}

func TestCandidateCount(t *testing.T) {
	tests := []struct {
		k, factor, total int
		want             int
	}{
		{k: 5, factor: 4, total: 100, want: 20},
		{k: 5, factor: 4, total: 12, want: 12},
		{k: math.MaxInt / 2, factor: 4, total: 3, want: 3},
		{k: math.MaxInt, factor: 2, total: math.MaxInt - 1, want: math.MaxInt - 1},
		{k: 3, factor: 0, total: 10, want: 3},
		{k: 3, factor: 4, total: 0, want: 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.k, tt.factor, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, candidateCount(tt.k, tt.factor, tt.total))
		})
	}
}

func TestRetrieveBoostsModalityCues(t *testing.T) {
	s := &stubSearcher{hits: []index.Hit{
		hit("doc", 0, models.ModalityDocument, models.CharLocator(0, 800, 1, 1), 0.60),
		hit("rec", 0, models.ModalityAudio, models.TimeLocator(300, 420), 0.58),
	}}
	r := NewRetriever(s, &stubEmbedder{})

	res, err := r.Retrieve(context.Background(), "what happened", 2)
	require.NoError(t, err)
	assert.Equal(t, "doc#00000", res.Fragments[0].Fragment.ID)

	res, err = r.Retrieve(context.Background(), "what was said at 05:20", 2)
	require.NoError(t, err)
	assert.Equal(t, "rec#00000", res.Fragments[0].Fragment.ID)
	assert.InDelta(t, 0.08, res.Fragments[0].Boost, 1e-9)
	assert.InDelta(t, 0.58, res.Fragments[0].BaseScore, 1e-9)
	assert.Len(t, res.Cues, 2)
}

func TestRetrieveDeterministic(t *testing.T) {
	s := &stubSearcher{hits: []index.Hit{
		hit("b", 0, models.ModalityDocument, models.CharLocator(0, 800, 1, 1), 0.5),
		hit("a", 0, models.ModalityDocument, models.CharLocator(0, 800, 1, 1), 0.5),
	}}
	r := NewRetriever(s, &stubEmbedder{})
	first, err := r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, first.Fragments, second.Fragments)
	assert.Equal(t, "a#00000", first.Fragments[0].Fragment.ID)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	f := newFixture(t)
	res, err := NewRetriever(f.idx, f.emb).Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	r := NewRetriever(&stubSearcher{}, &stubEmbedder{err: fmt.Errorf("%w: model missing", models.ErrEmbeddingFailed)})
	_, err := r.Retrieve(context.Background(), "q", 3)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageEmbedding, se.Stage)
	assert.ErrorIs(t, err, models.ErrEmbeddingFailed)
}

func TestRetrieveIndexUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.idx.Close())

	_, err := NewRetriever(f.idx, f.emb).Retrieve(context.Background(), "q", 3)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageIndex, se.Stage)
	assert.ErrorIs(t, err, models.ErrIndexUnavailable)
}

func TestRetrieveTimeout(t *testing.T) {
	r := NewRetriever(&stubSearcher{}, &stubEmbedder{delay: time.Second}, WithTimeout(10*time.Millisecond))
	_, err := r.Retrieve(context.Background(), "q", 3)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageTimeout, se.Stage)
	assert.ErrorIs(t, err, models.ErrQueryTimeout)
}

func TestQueryFiltersModalitiesAndRendersPrompt(t *testing.T) {
	s := &stubSearcher{hits: []index.Hit{
		hit("doc", 0, models.ModalityDocument, models.CharLocator(0, 800, 3, 3), 0.9),
		hit("rec", 0, models.ModalityAudio, models.TimeLocator(0, 60), 0.8),
	}}
	r := NewRetriever(s, &stubEmbedder{})
	resp, err := r.Query(context.Background(), &models.QueryRequest{
		Query:      "  budget  ",
		Modalities: []models.Modality{models.ModalityAudio},
		Prompt:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "budget", resp.Query)
	require.Len(t, resp.Fragments, 1)
	assert.Equal(t, "rec#00000", resp.Fragments[0].Fragment.ID)
	assert.Contains(t, resp.Prompt, "Question: budget")
	assert.Contains(t, resp.Prompt, "[1] /rec (00:00:00–00:01:00)")

	_, err = r.Query(context.Background(), &models.QueryRequest{Query: "   "})
	assert.Error(t, err)
}

func TestDedupKeepsOrder(t *testing.T) {
	in := []models.RetrievedFragment{
		{Fragment: models.Fragment{ID: "x#1", DocumentID: "x", Locator: models.TimeLocator(0, 60)}, Score: 0.9},
		{Fragment: models.Fragment{ID: "x#2", DocumentID: "x", Locator: models.TimeLocator(80, 140)}, Score: 0.8},
		{Fragment: models.Fragment{ID: "x#3", DocumentID: "x", Locator: models.TimeLocator(200, 260)}, Score: 0.7},
	}
	out := Dedup(in, 0, 30)
	require.Len(t, out, 2)
	assert.Equal(t, "x#1", out[0].Fragment.ID)
	assert.Equal(t, "x#3", out[1].Fragment.ID)

	assert.Len(t, Dedup(in, 0, 0), 3)
}
