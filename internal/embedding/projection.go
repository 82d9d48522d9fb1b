package embedding

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hyperjump/shiori/internal/models"
)

// Projection seeds. Changing either invalidates every stored vector.
const (
	TextProjectionSeed   int64 = 0x7465787470726f6a
	VisionProjectionSeed int64 = 0x76697370726f6a31
)

// Projection is a fixed linear map from one dimension to another. Its
// matrix is drawn once from a seeded Gaussian and never changes.
type Projection struct {
	from, to int
	seed     int64
	matrix   []float32 // to rows of from columns
}

// NewProjection returns the projection from -> to. When the dimensions are
// equal it is the identity.
func NewProjection(from, to int, seed int64) (*Projection, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid projection %d -> %d", from, to)
	}
	p := &Projection{from: from, to: to, seed: seed}
	if from == to {
		return p, nil
	}
	rng := rand.New(rand.NewSource(seed))
	scale := 1 / math.Sqrt(float64(to))
	p.matrix = make([]float32, from*to)
	for i := range p.matrix {
		p.matrix[i] = float32(rng.NormFloat64() * scale)
	}
	return p, nil
}

// Identity reports whether the projection leaves vectors unchanged.
func (p *Projection) Identity() bool {
	return p.matrix == nil
}

// Apply maps v to the target dimension. v is not modified.
func (p *Projection) Apply(v []float32) ([]float32, error) {
	if len(v) != p.from {
		return nil, fmt.Errorf("%w: projection expects %d, got %d", models.ErrDimensionMismatch, p.from, len(v))
	}
	out := make([]float32, p.to)
	if p.Identity() {
		copy(out, v)
		return out, nil
	}
	for j := 0; j < p.to; j++ {
		row := p.matrix[j*p.from : (j+1)*p.from]
		var sum float64
		for i, x := range v {
			sum += float64(row[i]) * float64(x)
		}
		out[j] = float32(sum)
	}
	return out, nil
}

// String describes the projection for fingerprints.
func (p *Projection) String() string {
	if p.Identity() {
		return fmt.Sprintf("id%d", p.to)
	}
	return fmt.Sprintf("gauss%d>%d@%x", p.from, p.to, p.seed)
}
