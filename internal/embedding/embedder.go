// Package embedding turns fragments and queries into unit vectors in one
// shared space. Text and vision encoders are projected to a global dimension
// by fixed projections and combined by a fixed rule.
package embedding

import "context"

// TextEncoder produces vectors for text.
type TextEncoder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Fingerprint identifies the model and its settings. Vectors from
	// encoders with different fingerprints are not comparable.
	Fingerprint() string
	Close() error
}

// QueryEncoder is implemented by text encoders that embed queries
// differently from passages (for example with a "query: " prefix).
type QueryEncoder interface {
	EmbedQueryText(ctx context.Context, text string) ([]float32, error)
}

// VisionEncoder produces vectors for an image referenced by path.
type VisionEncoder interface {
	EmbedImage(ctx context.Context, payloadRef string) ([]float32, error)
	Dimensions() int
	Fingerprint() string
	Close() error
}
