//go:build !cgo

package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/shiori/internal/models"
)

var errFastEmbedUnavailable = fmt.Errorf("%w: fastembed requires CGO", models.ErrEmbeddingFailed)

// FastEmbedEncoder is a stub for builds without CGO.
type FastEmbedEncoder struct{}

// NewFastEmbedEncoder returns an error when CGO is not available.
func NewFastEmbedEncoder(_, _ string, _ int) (*FastEmbedEncoder, error) {
	return nil, errFastEmbedUnavailable
}

func (e *FastEmbedEncoder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, errFastEmbedUnavailable
}

func (e *FastEmbedEncoder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, errFastEmbedUnavailable
}

func (e *FastEmbedEncoder) EmbedQueryText(context.Context, string) ([]float32, error) {
	return nil, errFastEmbedUnavailable
}

func (e *FastEmbedEncoder) Dimensions() int     { return 0 }
func (e *FastEmbedEncoder) Fingerprint() string { return "fastembed/unavailable" }
func (e *FastEmbedEncoder) Close() error        { return nil }
