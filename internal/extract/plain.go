package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/shiori/internal/models"
)

// pageSeparator joins consecutive pages. It counts toward the page before it
// so the page table stays contiguous.
const pageSeparator = "\n\n"

// extractPlain returns content as string, validating it is valid UTF-8.
// Invalid UTF-8 sequences are replaced with the replacement character.
func extractPlain(content []byte) (string, error) {
	return validUTF8(string(content)), nil
}

func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\ufffd")
}

// joinPages concatenates per-page text and records the rune span of each page.
func joinPages(pages []string) (string, []models.PageSpan) {
	var b strings.Builder
	spans := make([]models.PageSpan, 0, len(pages))
	off := 0
	for i, p := range pages {
		p = validUTF8(strings.TrimSpace(p))
		if i < len(pages)-1 {
			p += pageSeparator
		}
		b.WriteString(p)
		n := utf8.RuneCountInString(p)
		spans = append(spans, models.PageSpan{Number: i + 1, Start: off, End: off + n})
		off += n
	}
	return b.String(), spans
}
