//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/shiori/internal/models"
)

var errNoCGO = fmt.Errorf("%w: ONNX encoders require CGO; build with CGO_ENABLED=1 and onnxruntime", models.ErrEmbeddingFailed)

// ONNXEncoder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEncoder struct{}

// NewONNXEncoder returns an error when built without CGO (ONNX not available).
func NewONNXEncoder(_ string, _, _ int) (*ONNXEncoder, error) {
	return nil, errNoCGO
}

func (e *ONNXEncoder) EmbedText(context.Context, string) ([]float32, error)      { return nil, errNoCGO }
func (e *ONNXEncoder) EmbedTexts(context.Context, []string) ([][]float32, error) { return nil, errNoCGO }
func (e *ONNXEncoder) Dimensions() int                                            { return 0 }
func (e *ONNXEncoder) Fingerprint() string                                        { return "onnx-text/unavailable" }
func (e *ONNXEncoder) Close() error                                               { return nil }

// ONNXVisionEncoder stub type when built without CGO.
type ONNXVisionEncoder struct{}

// NewONNXVisionEncoder returns an error when built without CGO.
func NewONNXVisionEncoder(_ string, _ int) (*ONNXVisionEncoder, error) {
	return nil, errNoCGO
}

func (e *ONNXVisionEncoder) EmbedImage(context.Context, string) ([]float32, error) { return nil, errNoCGO }
func (e *ONNXVisionEncoder) Dimensions() int                                       { return 0 }
func (e *ONNXVisionEncoder) Fingerprint() string                                   { return "onnx-vision/unavailable" }
func (e *ONNXVisionEncoder) Close() error                                          { return nil }
