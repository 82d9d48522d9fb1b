package indexer

import (
	"strings"
	"unicode"

	"github.com/hyperjump/shiori/internal/models"
)

// Preprocess normalizes text for embedding (trim, collapse whitespace).
// Fragment text itself is stored untouched so offsets stay exact.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// EmbeddingInput returns the normalized text of each fragment, in order.
func EmbeddingInput(frags []models.Fragment) []models.Fragment {
	out := make([]models.Fragment, len(frags))
	for i, f := range frags {
		f.Text = Preprocess(f.Text)
		out[i] = f
	}
	return out
}
