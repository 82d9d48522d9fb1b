//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/hyperjump/shiori/internal/models"
)

// fastembedModels maps accepted model names to fastembed models and their dimensions.
var fastembedModels = map[string]struct {
	model fastembed.EmbeddingModel
	dims  int
}{
	"BAAI/bge-small-en-v1.5":                 {fastembed.BGESmallENV15, 384},
	"BAAI/bge-base-en-v1.5":                  {fastembed.BGEBaseENV15, 768},
	"sentence-transformers/all-MiniLM-L6-v2": {fastembed.AllMiniLML6V2, 384},
}

// FastEmbedEncoder embeds text with a local fastembed ONNX model.
type FastEmbedEncoder struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dims      int
	mu        sync.RWMutex
}

// NewFastEmbedEncoder loads the named model, downloading it into cacheDir on first use.
func NewFastEmbedEncoder(modelName, cacheDir string, maxLength int) (*FastEmbedEncoder, error) {
	m, ok := fastembedModels[modelName]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", models.ErrEmbeddingFailed, modelName)
	}
	if maxLength <= 0 {
		maxLength = 512
	}
	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                m.model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing fastembed: %v", models.ErrEmbeddingFailed, err)
	}
	return &FastEmbedEncoder{model: flag, modelName: modelName, dims: m.dims}, nil
}

// EmbedText embeds one passage.
func (e *FastEmbedEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedTexts embeds passages in one batch.
func (e *FastEmbedEncoder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return nil, fmt.Errorf("%w: encoder closed", models.ErrEmbeddingFailed)
	}
	out, err := e.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingFailed, err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: fastembed returned %d vectors for %d texts", models.ErrEmbeddingFailed, len(out), len(texts))
	}
	return out, nil
}

// EmbedQueryText embeds a query with the model's query prefix.
func (e *FastEmbedEncoder) EmbedQueryText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return nil, fmt.Errorf("%w: encoder closed", models.ErrEmbeddingFailed)
	}
	v, err := e.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingFailed, err)
	}
	return v, nil
}

// Dimensions returns the embedding dimension.
func (e *FastEmbedEncoder) Dimensions() int {
	return e.dims
}

// Fingerprint identifies the model.
func (e *FastEmbedEncoder) Fingerprint() string {
	return fmt.Sprintf("fastembed/%s/%d", e.modelName, e.dims)
}

// Close releases the model.
func (e *FastEmbedEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Destroy()
	e.model = nil
	return err
}
