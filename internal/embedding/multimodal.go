package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// CombinationRule names the fixed rule that merges text and visual vectors of
// an image fragment: normalize(TextWeight*t + VisionWeight*v), both inputs
// already projected and normalized. Images with blank OCR text use v alone.
const (
	CombinationRule = "weighted-sum/v1"
	TextWeight      = 0.5
	VisionWeight    = 0.5
)

// Embedder embeds fragments and queries into one space of fixed dimension.
type Embedder struct {
	text       TextEncoder
	vision     VisionEncoder
	dims       int
	textProj   *Projection
	visionProj *Projection
	cache      *EmbeddingCache
	workers    int
	logger     *zap.Logger
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithVisionEncoder enables visual embedding of image payloads.
func WithVisionEncoder(v VisionEncoder) Option {
	return func(e *Embedder) {
		e.vision = v
	}
}

// WithCacheSize sets the text vector LRU capacity. Zero disables it.
func WithCacheSize(n int) Option {
	return func(e *Embedder) {
		e.cache = NewEmbeddingCache(n)
	}
}

// WithWorkers bounds how many fragments are embedded concurrently.
func WithWorkers(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Embedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an Embedder producing vectors of dimension dims.
func New(text TextEncoder, dims int, opts ...Option) (*Embedder, error) {
	if text == nil {
		return nil, fmt.Errorf("%w: no text encoder", models.ErrEmbeddingFailed)
	}
	e := &Embedder{
		text:    text,
		dims:    dims,
		cache:   NewEmbeddingCache(1000),
		workers: 4,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	var err error
	if e.textProj, err = NewProjection(text.Dimensions(), dims, TextProjectionSeed); err != nil {
		return nil, err
	}
	if e.vision != nil {
		if e.visionProj, err = NewProjection(e.vision.Dimensions(), dims, VisionProjectionSeed); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Dimensions returns the global embedding dimension.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Fingerprint identifies encoders, projections and combination rule. Two
// embedders with the same fingerprint produce bit-identical vectors.
func (e *Embedder) Fingerprint() string {
	vision := "none"
	if e.vision != nil {
		vision = e.vision.Fingerprint() + ":" + e.visionProj.String()
	}
	return fmt.Sprintf("text=%s:%s;vision=%s;dims=%d;rule=%s",
		e.text.Fingerprint(), e.textProj.String(), vision, e.dims, CombinationRule)
}

// EmbedFragment returns the vector for one fragment.
func (e *Embedder) EmbedFragment(ctx context.Context, f models.Fragment) ([]float32, error) {
	hasText := strings.TrimSpace(f.Text) != ""
	switch f.Modality {
	case models.ModalityDocument, models.ModalityAudio:
		if !hasText {
			return nil, fmt.Errorf("%w: fragment %s has no text", models.ErrEmbeddingFailed, f.ID)
		}
		return e.textVector(ctx, f.Text, false)
	case models.ModalityImage:
		hasVisual := f.PayloadRef != "" && e.vision != nil
		switch {
		case hasText && hasVisual:
			t, err := e.textVector(ctx, f.Text, false)
			if err != nil {
				return nil, err
			}
			v, err := e.visualVector(ctx, f.PayloadRef)
			if err != nil {
				return nil, err
			}
			return combine(t, v)
		case hasVisual:
			return e.visualVector(ctx, f.PayloadRef)
		case hasText:
			return e.textVector(ctx, f.Text, false)
		default:
			return nil, fmt.Errorf("%w: image fragment %s has no text and no vision encoder", models.ErrEmbeddingFailed, f.ID)
		}
	default:
		return nil, fmt.Errorf("%w: unknown modality %q", models.ErrEmbeddingFailed, f.Modality)
	}
}

// EmbedFragments embeds fragments concurrently and returns vectors in input
// order. The first failure cancels the rest.
func (e *Embedder) EmbedFragments(ctx context.Context, frags []models.Fragment) ([][]float32, error) {
	out := make([][]float32, len(frags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range frags {
		g.Go(func() error {
			v, err := e.EmbedFragment(gctx, frags[i])
			if err != nil {
				e.logger.Debug("embedding fragment failed", zap.String("fragment", frags[i].ID), zap.Error(err))
				return fmt.Errorf("fragment %s: %w", frags[i].ID, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery returns the vector for query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrEmbeddingFailed)
	}
	return e.textVector(ctx, text, true)
}

func (e *Embedder) textVector(ctx context.Context, text string, query bool) ([]float32, error) {
	key := "p\x00" + text
	if query {
		key = "q\x00" + text
	}
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	var (
		raw []float32
		err error
	)
	if qe, ok := e.text.(QueryEncoder); ok && query {
		raw, err = qe.EmbedQueryText(ctx, text)
	} else {
		raw, err = e.text.EmbedText(ctx, text)
	}
	if err != nil {
		return nil, wrapEncoderError(ctx, err)
	}
	if len(raw) != e.text.Dimensions() {
		return nil, fmt.Errorf("%w: text encoder returned %d values, declared %d",
			models.ErrDimensionMismatch, len(raw), e.text.Dimensions())
	}
	v, err := e.project(e.textProj, raw)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, v)
	return v, nil
}

func (e *Embedder) visualVector(ctx context.Context, payloadRef string) ([]float32, error) {
	raw, err := e.vision.EmbedImage(ctx, payloadRef)
	if err != nil {
		return nil, wrapEncoderError(ctx, err)
	}
	if len(raw) != e.vision.Dimensions() {
		return nil, fmt.Errorf("%w: vision encoder returned %d values, declared %d",
			models.ErrDimensionMismatch, len(raw), e.vision.Dimensions())
	}
	return e.project(e.visionProj, raw)
}

func (e *Embedder) project(p *Projection, raw []float32) ([]float32, error) {
	v, err := p.Apply(raw)
	if err != nil {
		return nil, err
	}
	if !utils.NormalizeL2(v) {
		return nil, fmt.Errorf("%w: zero vector", models.ErrEmbeddingFailed)
	}
	return v, nil
}

func combine(t, v []float32) ([]float32, error) {
	out := make([]float32, len(t))
	for i := range t {
		out[i] = float32(TextWeight*float64(t[i]) + VisionWeight*float64(v[i]))
	}
	if !utils.NormalizeL2(out) {
		return nil, fmt.Errorf("%w: text and visual vectors cancel out", models.ErrEmbeddingFailed)
	}
	return out, nil
}

func wrapEncoderError(ctx context.Context, err error) error {
	if errors.Is(err, models.ErrEmbeddingFailed) || errors.Is(err, models.ErrDimensionMismatch) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrEmbeddingFailed, err)
}

// Close releases both encoders.
func (e *Embedder) Close() error {
	var errs []error
	if err := e.text.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.vision != nil {
		if err := e.vision.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
