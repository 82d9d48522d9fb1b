package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// HashingEncoder is a deterministic bag-of-words text encoder. Each token is
// hashed with FNV-1a into one of the output dimensions with a hash-derived
// sign, weighted by 1+log(tf). It needs no model files, so it is the default
// encoder for offline use and tests.
type HashingEncoder struct {
	dimensions int
}

// NewHashingEncoder returns a hashing encoder of the given dimensions.
func NewHashingEncoder(dimensions int) *HashingEncoder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingEncoder{dimensions: dimensions}
}

// EmbedText returns the unit vector for text.
func (e *HashingEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: text has no tokens", models.ErrEmbeddingFailed)
	}
	counts := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	acc := make([]float64, e.dimensions)
	for _, tok := range order {
		idx, sign := e.bucket(tok)
		acc[idx] += sign * (1 + math.Log(float64(counts[tok])))
	}
	emb := make([]float32, e.dimensions)
	for i, v := range acc {
		emb[i] = float32(v)
	}
	if !utils.NormalizeL2(emb) {
		return nil, fmt.Errorf("%w: tokens cancelled out", models.ErrEmbeddingFailed)
	}
	return emb, nil
}

func (e *HashingEncoder) bucket(token string) (int, float64) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimensions)), sign
}

// EmbedTexts calls EmbedText for each text.
func (e *HashingEncoder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashingEncoder) Dimensions() int {
	return e.dimensions
}

// Fingerprint identifies the encoder and its dimension.
func (e *HashingEncoder) Fingerprint() string {
	return fmt.Sprintf("hashing-text/v1/%d", e.dimensions)
}

// Close is a no-op for HashingEncoder.
func (e *HashingEncoder) Close() error {
	return nil
}
