//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

const clipImageSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ONNXVisionEncoder runs the image tower of a CLIP-style model exported to
// ONNX with input "pixel_values" and output "image_embeds".
type ONNXVisionEncoder struct {
	session      *ort.AdvancedSession
	modelPath    string
	dimensions   int
	pixelTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXVisionEncoder loads the image model at modelPath.
func NewONNXVisionEncoder(modelPath string, dimensions int) (*ONNXVisionEncoder, error) {
	if err := initONNX(); err != nil {
		return nil, err
	}
	pixels := make([]float32, 3*clipImageSize*clipImageSize)
	pixelTensor, err := ort.NewTensor(ort.NewShape(1, 3, clipImageSize, clipImageSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		pixelTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{pixelTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		pixelTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: create ONNX vision session for %s: %v", models.ErrEmbeddingFailed, modelPath, err)
	}
	return &ONNXVisionEncoder{
		session:      session,
		modelPath:    modelPath,
		dimensions:   dimensions,
		pixelTensor:  pixelTensor,
		outputTensor: outputTensor,
	}, nil
}

// EmbedImage decodes the image, center-crops and resizes it to 224x224,
// applies CLIP normalization and runs the model.
func (e *ONNXVisionEncoder) EmbedImage(ctx context.Context, payloadRef string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(payloadRef)
	if err != nil {
		return nil, fmt.Errorf("%w: open image: %v", models.ErrEmbeddingFailed, err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: decode image %s: %v", models.ErrEmbeddingFailed, payloadRef, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: encoder closed", models.ErrEmbeddingFailed)
	}
	fillPixels(e.pixelTensor.GetData(), img)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: vision inference failed: %v", models.ErrEmbeddingFailed, err)
	}
	emb := make([]float32, e.dimensions)
	copy(emb, e.outputTensor.GetData()[:e.dimensions])
	if !utils.NormalizeL2(emb) {
		return nil, fmt.Errorf("%w: model returned a zero vector", models.ErrEmbeddingFailed)
	}
	return emb, nil
}

// fillPixels writes a CHW float tensor of the center square of img,
// resized by nearest neighbour.
func fillPixels(dst []float32, img image.Image) {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	plane := clipImageSize * clipImageSize
	for y := 0; y < clipImageSize; y++ {
		sy := y0 + y*side/clipImageSize
		for x := 0; x < clipImageSize; x++ {
			sx := x0 + x*side/clipImageSize
			r, g, bl, _ := img.At(sx, sy).RGBA()
			i := y*clipImageSize + x
			dst[i] = (float32(r)/65535 - clipMean[0]) / clipStd[0]
			dst[plane+i] = (float32(g)/65535 - clipMean[1]) / clipStd[1]
			dst[2*plane+i] = (float32(bl)/65535 - clipMean[2]) / clipStd[2]
		}
	}
}

// Dimensions returns the embedding dimension.
func (e *ONNXVisionEncoder) Dimensions() int {
	return e.dimensions
}

// Fingerprint identifies the model file and output size.
func (e *ONNXVisionEncoder) Fingerprint() string {
	return fmt.Sprintf("onnx-vision/%s/%d", filepath.Base(e.modelPath), e.dimensions)
}

// Close destroys the session and tensors.
func (e *ONNXVisionEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.pixelTensor != nil {
		_ = e.pixelTensor.Destroy()
		e.pixelTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
