// Package indexer splits extracted content into fragments and drives ingestion into the index.
package indexer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/models"
)

const (
	DefaultCharWindow  = 800
	DefaultCharOverlap = 150
	DefaultWordWindow  = 500
	DefaultWordOverlap = 100
)

// Chunker splits extracted content into overlapping fragments using a
// policy per modality.
type Chunker struct {
	charSize    int
	charOverlap int
	wordSize    int
	wordOverlap int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithCharWindow sets the document window size and overlap in characters.
func WithCharWindow(size, overlap int) ChunkerOption {
	return func(c *Chunker) {
		c.charSize = size
		c.charOverlap = overlap
	}
}

// WithWordWindow sets the audio window size and overlap in words.
func WithWordWindow(size, overlap int) ChunkerOption {
	return func(c *Chunker) {
		c.wordSize = size
		c.wordOverlap = overlap
	}
}

// NewChunker creates a chunker. Without options it uses 800/150 characters
// for documents and 500/100 words for audio.
func NewChunker(opts ...ChunkerOption) (*Chunker, error) {
	c := &Chunker{
		charSize:    DefaultCharWindow,
		charOverlap: DefaultCharOverlap,
		wordSize:    DefaultWordWindow,
		wordOverlap: DefaultWordOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.charSize <= 0 || c.charOverlap < 0 || c.charOverlap >= c.charSize {
		return nil, fmt.Errorf("invalid char window %d/%d", c.charSize, c.charOverlap)
	}
	if c.wordSize <= 0 || c.wordOverlap < 0 || c.wordOverlap >= c.wordSize {
		return nil, fmt.Errorf("invalid word window %d/%d", c.wordSize, c.wordOverlap)
	}
	return c, nil
}

// Chunk splits content belonging to docID into ordered fragments.
func (c *Chunker) Chunk(docID string, content *models.Content) ([]models.Fragment, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: no content", models.ErrExtractionInconsistency)
	}
	switch content.Modality {
	case models.ModalityDocument:
		return c.chunkText(docID, content.Text, content.Pages)
	case models.ModalityAudio:
		return c.chunkWords(docID, content.Words)
	case models.ModalityImage:
		return chunkImage(docID, content.Image)
	default:
		return nil, fmt.Errorf("unsupported modality %q", content.Modality)
	}
}

// chunkText cuts windows [s, s+T) stepping by T-O. The last window is the
// first one that reaches the end of the text, so no window is fully
// contained in its predecessor.
func (c *Chunker) chunkText(docID, text string, pages []models.PageSpan) ([]models.Fragment, error) {
	runes := []rune(text)
	n := len(runes)
	if len(pages) == 0 {
		pages = []models.PageSpan{{Number: 1, Start: 0, End: n}}
	}
	if err := validatePages(pages, n); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	step := c.charSize - c.charOverlap
	var frags []models.Fragment
	for start := 0; ; start += step {
		end := start + c.charSize
		if end > n {
			end = n
		}
		first, last := pageSpan(pages, start, end)
		frags = append(frags, models.Fragment{
			ID:         fileid.FragmentID(docID, len(frags)),
			DocumentID: docID,
			Seq:        len(frags),
			Modality:   models.ModalityDocument,
			Locator:    models.CharLocator(start, end, first, last),
			Text:       string(runes[start:end]),
		})
		if end >= n {
			break
		}
	}
	return frags, nil
}

// validatePages requires a contiguous page table covering [0, n) with
// increasing page numbers.
func validatePages(pages []models.PageSpan, n int) error {
	prevEnd, prevNum := 0, 0
	for i, p := range pages {
		if p.Number <= prevNum {
			return fmt.Errorf("%w: page %d out of order", models.ErrExtractionInconsistency, p.Number)
		}
		if p.Start != prevEnd || p.End < p.Start {
			return fmt.Errorf("%w: page %d spans [%d,%d), expected start %d",
				models.ErrExtractionInconsistency, p.Number, p.Start, p.End, prevEnd)
		}
		if i == len(pages)-1 && p.End != n {
			return fmt.Errorf("%w: pages end at %d but content has %d characters",
				models.ErrExtractionInconsistency, p.End, n)
		}
		prevEnd, prevNum = p.End, p.Number
	}
	return nil
}

// pageSpan returns the first and last page numbers touched by [start, end).
func pageSpan(pages []models.PageSpan, start, end int) (int, int) {
	find := func(off int) int {
		i := sort.Search(len(pages), func(i int) bool { return pages[i].End > off })
		if i == len(pages) {
			i = len(pages) - 1
		}
		return pages[i].Number
	}
	last := end - 1
	if last < start {
		last = start
	}
	return find(start), find(last)
}

func (c *Chunker) chunkWords(docID string, words []models.TimedWord) ([]models.Fragment, error) {
	if err := validateWords(words); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}
	step := c.wordSize - c.wordOverlap
	var frags []models.Fragment
	for start := 0; ; start += step {
		end := start + c.wordSize
		if end > len(words) {
			end = len(words)
		}
		window := words[start:end]
		parts := make([]string, len(window))
		for i, w := range window {
			parts[i] = w.Word
		}
		frags = append(frags, models.Fragment{
			ID:         fileid.FragmentID(docID, len(frags)),
			DocumentID: docID,
			Seq:        len(frags),
			Modality:   models.ModalityAudio,
			Locator:    models.TimeLocator(window[0].Start, maxEnd(window)),
			Text:       strings.Join(parts, " "),
		})
		if end >= len(words) {
			break
		}
	}
	return frags, nil
}

func maxEnd(words []models.TimedWord) float64 {
	end := words[len(words)-1].End
	for _, w := range words {
		if w.End > end {
			end = w.End
		}
	}
	return end
}

func validateWords(words []models.TimedWord) error {
	prev := 0.0
	for i, w := range words {
		if math.IsNaN(w.Start) || math.IsNaN(w.End) || w.Start < 0 || w.End < w.Start {
			return fmt.Errorf("%w: word %d has invalid time [%g,%g]", models.ErrExtractionInconsistency, i, w.Start, w.End)
		}
		if w.Start < prev {
			return fmt.Errorf("%w: word %d starts at %g before previous word at %g",
				models.ErrExtractionInconsistency, i, w.Start, prev)
		}
		if strings.IndexFunc(w.Word, func(r rune) bool { return !unicode.IsSpace(r) }) < 0 {
			return fmt.Errorf("%w: word %d is blank", models.ErrExtractionInconsistency, i)
		}
		prev = w.Start
	}
	return nil
}

func chunkImage(docID string, img *models.ImageContent) ([]models.Fragment, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: image content missing", models.ErrExtractionInconsistency)
	}
	if img.PayloadRef == "" && strings.TrimSpace(img.OCRText) == "" {
		return nil, fmt.Errorf("%w: image has neither payload nor text", models.ErrExtractionInconsistency)
	}
	return []models.Fragment{{
		ID:         fileid.FragmentID(docID, 0),
		DocumentID: docID,
		Seq:        0,
		Modality:   models.ModalityImage,
		Locator:    models.ImageLocator(img.Width, img.Height, img.CapturedAt),
		Text:       img.OCRText,
		PayloadRef: img.PayloadRef,
	}}, nil
}
