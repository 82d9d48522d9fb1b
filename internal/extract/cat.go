package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractCat handles formats lu4p/cat reads reliably (ODT, RTF).
func extractCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return validUTF8(text), nil
}
