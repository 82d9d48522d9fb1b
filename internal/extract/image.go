package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hyperjump/shiori/internal/models"
)

// ocrSidecar is the JSON form of an image sidecar. Screenshot tools can
// record the capture time and window title next to the recognized text.
type ocrSidecar struct {
	Text        string    `json:"text"`
	CapturedAt  time.Time `json:"captured_at"`
	WindowTitle string    `json:"window_title"`
}

// extractImage reads the image header for its size and format and the OCR
// text from path + ".json" or path + ".txt" when present.
func extractImage(path string) (*models.Content, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img := &models.ImageContent{
		PayloadRef: abs,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     format,
	}
	meta := map[string]string{"format": format}
	if err := readOCR(abs, img, meta); err != nil {
		return nil, err
	}
	return &models.Content{Modality: models.ModalityImage, Image: img, Metadata: meta}, nil
}

func readOCR(path string, img *models.ImageContent, meta map[string]string) error {
	data, err := os.ReadFile(path + ".json")
	switch {
	case err == nil:
		var sc ocrSidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			return fmt.Errorf("%w: OCR sidecar %s.json: %v", models.ErrExtractionInconsistency, path, err)
		}
		img.OCRText = strings.TrimSpace(sc.Text)
		img.CapturedAt = sc.CapturedAt.UTC()
		if sc.WindowTitle != "" {
			meta["window_title"] = sc.WindowTitle
		}
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read OCR sidecar: %w", err)
	}

	data, err = os.ReadFile(path + ".txt")
	switch {
	case err == nil:
		img.OCRText = strings.TrimSpace(validUTF8(string(data)))
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read OCR sidecar: %w", err)
	}
	return nil
}
