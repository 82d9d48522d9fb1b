// Package models defines the core data structures shared by ingestion, indexing and retrieval.
package models

import (
	"fmt"
	"time"
)

// Modality tags the kind of source a document came from.
type Modality string

const (
	ModalityDocument Modality = "document"
	ModalityImage    Modality = "image"
	ModalityAudio    Modality = "audio"
)

// ParseModality converts a string to a Modality.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityDocument, ModalityImage, ModalityAudio:
		return Modality(s), nil
	default:
		return "", fmt.Errorf("unknown modality %q", s)
	}
}

// Document is one ingested source file.
type Document struct {
	ID          string            `json:"id" db:"id"`
	Path        string            `json:"path" db:"path"`
	Modality    Modality          `json:"modality" db:"modality"`
	ContentHash string            `json:"content_hash" db:"content_hash"`
	Size        int64             `json:"size" db:"size"`
	ModTime     time.Time         `json:"mod_time" db:"mod_time"`
	IngestedAt  time.Time         `json:"ingested_at" db:"ingested_at"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// Fragment is a contiguous retrievable unit of a Document.
type Fragment struct {
	ID         string   `json:"id" db:"id"`
	DocumentID string   `json:"document_id" db:"document_id"`
	Seq        int      `json:"seq" db:"seq"`
	Modality   Modality `json:"modality" db:"modality"`
	Locator    Locator  `json:"locator" db:"locator"`
	// Text is the body, transcript or OCR text. Empty for pure-visual fragments.
	Text string `json:"text" db:"text"`
	// PayloadRef points at the raw visual payload (image file path).
	PayloadRef string `json:"payload_ref,omitempty" db:"payload_ref"`
}

// IndexEntry is what the index stores per fragment: the fragment itself,
// its embedding and the owning document's path for citation display.
type IndexEntry struct {
	Fragment Fragment  `json:"fragment"`
	Vector   []float32 `json:"-"`
	Path     string    `json:"path"`
}
