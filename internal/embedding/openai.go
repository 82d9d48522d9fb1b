package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// OpenAIEncoder embeds text through an OpenAI-compatible embeddings
// endpoint, for example a local llama.cpp or Ollama server.
type OpenAIEncoder struct {
	client *openai.Client
	model  string
	dims   int
	base   string
}

// OpenAIOptions configures an OpenAIEncoder.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// NewOpenAIEncoder creates an encoder. Dimensions must match what the model returns.
func NewOpenAIEncoder(opts OpenAIOptions) (*OpenAIEncoder, error) {
	if opts.Model == "" {
		opts.Model = string(openai.SmallEmbedding3)
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = 1536
		if opts.Model == string(openai.LargeEmbedding3) {
			opts.Dimensions = 3072
		}
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIEncoder{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
		dims:   opts.Dimensions,
		base:   cfg.BaseURL,
	}, nil
}

// EmbedText embeds a single text.
func (e *OpenAIEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedTexts embeds texts in one request. Results are matched back to inputs by index.
func (e *OpenAIEncoder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: embeddings API: %v", models.ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: API returned %d embeddings for %d texts", models.ErrEmbeddingFailed, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", models.ErrEmbeddingFailed, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		if len(v) != e.dims {
			return nil, fmt.Errorf("%w: model %s returned %d values, configured %d", models.ErrDimensionMismatch, e.model, len(v), e.dims)
		}
		if !utils.NormalizeL2(v) {
			return nil, fmt.Errorf("%w: API returned a zero vector", models.ErrEmbeddingFailed)
		}
		out[d.Index] = v
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%w: no embedding for input %d", models.ErrEmbeddingFailed, i)
		}
	}
	return out, nil
}

// Dimensions returns the configured dimension.
func (e *OpenAIEncoder) Dimensions() int {
	return e.dims
}

// Fingerprint identifies endpoint and model.
func (e *OpenAIEncoder) Fingerprint() string {
	return fmt.Sprintf("openai/%s/%s/%d", e.base, e.model, e.dims)
}

// Close is a no-op.
func (e *OpenAIEncoder) Close() error {
	return nil
}
