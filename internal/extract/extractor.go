// Package extract turns source files into models.Content for the chunker:
// text with a page table for documents, timed words for audio, and OCR text
// plus dimensions for images.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

// ErrNoTranscript means an audio file has no transcript sidecar next to it.
var ErrNoTranscript = errors.New("no transcript")

var modalityByExt = map[string]models.Modality{
	".pdf":  models.ModalityDocument,
	".docx": models.ModalityDocument,
	".odt":  models.ModalityDocument,
	".rtf":  models.ModalityDocument,
	".xlsx": models.ModalityDocument,
	".pptx": models.ModalityDocument,
	".odp":  models.ModalityDocument,
	".ods":  models.ModalityDocument,
	".txt":  models.ModalityDocument,
	".md":   models.ModalityDocument,
	".rst":  models.ModalityDocument,

	".wav":  models.ModalityAudio,
	".mp3":  models.ModalityAudio,
	".flac": models.ModalityAudio,
	".m4a":  models.ModalityAudio,
	".ogg":  models.ModalityAudio,
	".aac":  models.ModalityAudio,
	".wma":  models.ModalityAudio,

	".png":  models.ModalityImage,
	".jpg":  models.ModalityImage,
	".jpeg": models.ModalityImage,
	".gif":  models.ModalityImage,
	".bmp":  models.ModalityImage,
	".tif":  models.ModalityImage,
	".tiff": models.ModalityImage,
	".webp": models.ModalityImage,
}

// ModalityOf returns the modality handled for a file extension (with dot).
func ModalityOf(ext string) (models.Modality, bool) {
	m, ok := modalityByExt[strings.ToLower(ext)]
	return m, ok
}

// SupportedExtensions lists every extension with an extractor, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(modalityByExt))
	for ext := range modalityByExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsSidecar reports whether path is a transcript or OCR file belonging to an
// audio or image file, e.g. "call.wav.json" or "shot.png.txt".
func IsSidecar(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".txt" && ext != ".json" {
		return false
	}
	m, ok := ModalityOf(filepath.Ext(strings.TrimSuffix(path, filepath.Ext(path))))
	return ok && m != models.ModalityDocument
}

// Extractor extracts content from files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its content.
// Audio needs a whisper.cpp JSON transcript at path + ".json"; images read an
// optional OCR sidecar at path + ".txt" or path + ".json".
func (e *Extractor) Extract(path string) (*models.Content, error) {
	ext := strings.ToLower(filepath.Ext(path))
	m, ok := ModalityOf(ext)
	if !ok {
		m = models.ModalityDocument
	}
	switch m {
	case models.ModalityAudio:
		return extractAudio(path)
	case models.ModalityImage:
		return extractImage(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts document content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are
// treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (*models.Content, error) {
	var (
		pages []string
		text  string
		err   error
	)
	switch strings.ToLower(ext) {
	case ".pdf":
		pages, err = extractPDF(content)
	case ".xlsx":
		pages, err = extractExcel(content)
	case ".pptx":
		pages, err = extractPPTX(content)
	case ".odp":
		pages, err = extractODP(content)
	case ".ods":
		pages, err = extractODS(content)
	case ".docx":
		text, err = extractDOCX(content)
	case ".odt", ".rtf":
		text, err = extractCat(content)
	default:
		text, err = extractPlain(content)
	}
	if err != nil {
		return nil, err
	}
	if pages != nil {
		text, spans := joinPages(pages)
		return &models.Content{
			Modality: models.ModalityDocument,
			Text:     text,
			Pages:    spans,
			Metadata: map[string]string{"pages": fmt.Sprint(len(spans))},
		}, nil
	}
	return &models.Content{Modality: models.ModalityDocument, Text: text}, nil
}
