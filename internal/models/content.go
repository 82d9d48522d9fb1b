package models

import "time"

// PageSpan maps a 1-based page number to the rune offsets [Start, End) it
// occupies in the extracted text.
type PageSpan struct {
	Number int `json:"number"`
	Start  int `json:"start"`
	End    int `json:"end"`
}

// TimedWord is one transcript token with its start and end time in seconds.
type TimedWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ImageContent is what an upstream image extractor yields.
type ImageContent struct {
	OCRText    string    `json:"ocr_text"`
	PayloadRef string    `json:"payload_ref"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Format     string    `json:"format,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Content is the extracted content of one file, handed to the chunker.
// Which fields are populated depends on Modality: Text and Pages for
// documents, Words for audio, Image for images.
type Content struct {
	Modality Modality          `json:"modality"`
	Text     string            `json:"text,omitempty"`
	Pages    []PageSpan        `json:"pages,omitempty"`
	Words    []TimedWord       `json:"words,omitempty"`
	Image    *ImageContent     `json:"image,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
