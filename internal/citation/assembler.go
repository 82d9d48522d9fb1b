// Package citation turns ranked fragments into a numbered context block and
// the citation list that maps each number back to an exact source location.
package citation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

// Assembly is the output of Assemble.
type Assembly struct {
	ContextBlock string
	Citations    []models.Citation
	// Texts holds the context block entries in citation order.
	Texts []string
}

// Assemble numbers fragments 1..n in the order they first appear and builds
// the context block. A fragment listed twice keeps its first number. Distinct
// fragments of one document get distinct numbers.
func Assemble(fragments []models.RetrievedFragment) (*Assembly, error) {
	a := &Assembly{Citations: make([]models.Citation, 0, len(fragments))}
	seen := make(map[string]bool, len(fragments))

	for _, rf := range fragments {
		f := rf.Fragment
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true

		locator, err := FormatLocator(rf.Path, f.Locator)
		if err != nil {
			return nil, fmt.Errorf("fragment %s: %w", f.ID, err)
		}
		n := len(a.Citations) + 1
		a.Citations = append(a.Citations, models.Citation{
			Number:     n,
			FragmentID: f.ID,
			DocumentID: f.DocumentID,
			Path:       rf.Path,
			Modality:   f.Modality,
			Locator:    locator,
			Score:      rf.Score,
		})
		a.Texts = append(a.Texts, entry(n, rf.Path, f, locator))
	}
	a.ContextBlock = strings.Join(a.Texts, "\n\n")
	return a, nil
}

func entry(n int, path string, f models.Fragment, locator string) string {
	base := filepath.Base(path)
	var header string
	if f.Locator.Kind == models.LocatorImage {
		// The image locator already carries the path.
		header = fmt.Sprintf("[%d] %s", n, locator)
	} else {
		header = fmt.Sprintf("[%d] %s (%s)", n, base, locator)
	}
	body := strings.TrimSpace(f.Text)
	if body == "" {
		body = fmt.Sprintf("[%s: %s, no text content]", f.Modality, base)
	}
	return header + "\n" + body
}
