package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// HashingVisionEncoder maps the bytes of an image payload to a fixed
// pseudo-random unit vector seeded by their sha256. Identical images get
// identical vectors and distinct images are near orthogonal. It carries no
// visual semantics and stands in for a joint vision-text model when none is
// configured.
type HashingVisionEncoder struct {
	dimensions int
}

// NewHashingVisionEncoder returns a payload-hash vision encoder.
func NewHashingVisionEncoder(dimensions int) *HashingVisionEncoder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &HashingVisionEncoder{dimensions: dimensions}
}

// EmbedImage reads the payload and returns its vector.
func (e *HashingVisionEncoder) EmbedImage(ctx context.Context, payloadRef string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(payloadRef)
	if err != nil {
		return nil, fmt.Errorf("%w: read image %s: %v", models.ErrEmbeddingFailed, payloadRef, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image %s is empty", models.ErrEmbeddingFailed, payloadRef)
	}
	sum := sha256.Sum256(data)
	rng := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(sum[:8]))))
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(rng.NormFloat64())
	}
	if !utils.NormalizeL2(emb) {
		return nil, fmt.Errorf("%w: degenerate image vector", models.ErrEmbeddingFailed)
	}
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *HashingVisionEncoder) Dimensions() int {
	return e.dimensions
}

// Fingerprint identifies the encoder and its dimension.
func (e *HashingVisionEncoder) Fingerprint() string {
	return fmt.Sprintf("hashing-vision/v1/%d", e.dimensions)
}

// Close is a no-op.
func (e *HashingVisionEncoder) Close() error {
	return nil
}
