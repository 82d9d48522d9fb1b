package search

import (
	"strings"

	"github.com/hyperjump/shiori/pkg/utils"
)

// Snippet collapses whitespace in content and truncates it to maxLen runes.
func Snippet(content string, maxLen int) string {
	return utils.Truncate(strings.Join(strings.Fields(content), " "), maxLen)
}
