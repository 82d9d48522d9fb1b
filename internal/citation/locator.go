package citation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/models"
)

// FormatLocator renders the human-readable location of a fragment:
// "page 12" or "pages 12–13" for documents, "00:05:20–00:08:15" for audio,
// and the absolute path with optional size and capture time for images.
func FormatLocator(path string, loc models.Locator) (string, error) {
	switch loc.Kind {
	case models.LocatorChars:
		if loc.Chars == nil {
			return "", fmt.Errorf("chars locator without range")
		}
		c := loc.Chars
		switch {
		case c.PageStart <= 0:
			return fmt.Sprintf("chars %d–%d", c.Start, c.End), nil
		case c.PageEnd <= c.PageStart:
			return fmt.Sprintf("page %d", c.PageStart), nil
		default:
			return fmt.Sprintf("pages %d–%d", c.PageStart, c.PageEnd), nil
		}
	case models.LocatorTime:
		if loc.Time == nil {
			return "", fmt.Errorf("time locator without range")
		}
		return FormatClock(loc.Time.Start) + "–" + FormatClock(loc.Time.End), nil
	case models.LocatorImage:
		return path + imageDetails(loc.Image), nil
	default:
		return "", fmt.Errorf("unknown locator kind %q", loc.Kind)
	}
}

func imageDetails(img *models.ImageRegion) string {
	if img == nil {
		return ""
	}
	var parts []string
	if img.Width > 0 && img.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", img.Width, img.Height))
	}
	if !img.CapturedAt.IsZero() {
		parts = append(parts, "captured "+img.CapturedAt.UTC().Format(time.RFC3339))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// FormatClock renders seconds as HH:MM:SS, truncating fractions.
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
