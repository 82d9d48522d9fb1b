package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// LocatorKind selects which variant of a Locator is populated.
type LocatorKind string

const (
	LocatorChars LocatorKind = "chars"
	LocatorTime  LocatorKind = "time"
	LocatorImage LocatorKind = "image"
)

// CharRange is a half-open rune offset range [Start, End) within a text
// document, along with the first and last page it touches (1-based).
type CharRange struct {
	Start     int `json:"start"`
	End       int `json:"end"`
	PageStart int `json:"page_start"`
	PageEnd   int `json:"page_end"`
}

// TimeRange is a span of an audio recording in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ImageRegion marks a whole image. Width and Height are in pixels when known.
type ImageRegion struct {
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Locator describes where a fragment lives within its source. Exactly one
// of Chars, Time or Image is set, matching Kind.
type Locator struct {
	Kind  LocatorKind  `json:"kind"`
	Chars *CharRange   `json:"chars,omitempty"`
	Time  *TimeRange   `json:"time,omitempty"`
	Image *ImageRegion `json:"image,omitempty"`
}

// CharLocator returns a character range locator.
func CharLocator(start, end, pageStart, pageEnd int) Locator {
	return Locator{Kind: LocatorChars, Chars: &CharRange{Start: start, End: end, PageStart: pageStart, PageEnd: pageEnd}}
}

// TimeLocator returns a time range locator.
func TimeLocator(start, end float64) Locator {
	return Locator{Kind: LocatorTime, Time: &TimeRange{Start: start, End: end}}
}

// ImageLocator returns a full-image locator.
func ImageLocator(width, height int, capturedAt time.Time) Locator {
	return Locator{Kind: LocatorImage, Image: &ImageRegion{Width: width, Height: height, CapturedAt: capturedAt}}
}

// Validate checks that the populated variant matches Kind and is well formed.
func (l Locator) Validate() error {
	switch l.Kind {
	case LocatorChars:
		if l.Chars == nil || l.Time != nil || l.Image != nil {
			return fmt.Errorf("locator kind %s has wrong payload", l.Kind)
		}
		if l.Chars.Start < 0 || l.Chars.End < l.Chars.Start {
			return fmt.Errorf("invalid char range [%d,%d)", l.Chars.Start, l.Chars.End)
		}
		if l.Chars.PageStart < 1 || l.Chars.PageEnd < l.Chars.PageStart {
			return fmt.Errorf("invalid page span %d-%d", l.Chars.PageStart, l.Chars.PageEnd)
		}
	case LocatorTime:
		if l.Time == nil || l.Chars != nil || l.Image != nil {
			return fmt.Errorf("locator kind %s has wrong payload", l.Kind)
		}
		if l.Time.Start < 0 || l.Time.End < l.Time.Start {
			return fmt.Errorf("invalid time range [%g,%g]", l.Time.Start, l.Time.End)
		}
	case LocatorImage:
		if l.Image == nil || l.Chars != nil || l.Time != nil {
			return fmt.Errorf("locator kind %s has wrong payload", l.Kind)
		}
	default:
		return fmt.Errorf("unknown locator kind %q", l.Kind)
	}
	return nil
}

// Overlaps reports whether two locators of the same kind cover the same region
// or lie within the given slack of each other. charSlack is in runes and
// timeSlack in seconds. Image locators always overlap since an image has a
// single fragment.
func (l Locator) Overlaps(other Locator, charSlack int, timeSlack float64) bool {
	if l.Kind != other.Kind {
		return false
	}
	switch l.Kind {
	case LocatorChars:
		if l.Chars == nil || other.Chars == nil {
			return false
		}
		return l.Chars.Start < other.Chars.End+charSlack && other.Chars.Start < l.Chars.End+charSlack
	case LocatorTime:
		if l.Time == nil || other.Time == nil {
			return false
		}
		return l.Time.Start < other.Time.End+timeSlack && other.Time.Start < l.Time.End+timeSlack
	case LocatorImage:
		return true
	}
	return false
}

// Encode returns the JSON form used by the metadata store.
func (l Locator) Encode() (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode locator: %w", err)
	}
	return string(b), nil
}

// DecodeLocator parses a locator produced by Encode and validates it.
func DecodeLocator(s string) (Locator, error) {
	var l Locator
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return Locator{}, fmt.Errorf("decode locator: %w", err)
	}
	if err := l.Validate(); err != nil {
		return Locator{}, err
	}
	return l, nil
}
