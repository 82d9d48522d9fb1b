package ranking

import (
	"regexp"
	"strings"
	"unicode"
)

var phraseRegex = regexp.MustCompile(`"([^"]+)"`)

// QueryAnalyzer splits queries into terms and phrases.
type QueryAnalyzer struct{}

// NewQueryAnalyzer creates a new QueryAnalyzer.
func NewQueryAnalyzer() *QueryAnalyzer {
	return &QueryAnalyzer{}
}

// Analyze parses a query string and returns an AnalyzedQuery.
func (qa *QueryAnalyzer) Analyze(query string) *AnalyzedQuery {
	result := &AnalyzedQuery{
		Original:     query,
		Terms:        []string{},
		Phrases:      []string{},
		NegatedTerms: []string{},
	}
	remaining := qa.extractPhrases(query, result)
	qa.extractTerms(remaining, result)
	return result
}

// extractPhrases records double-quoted phrases and returns the query without them.
func (qa *QueryAnalyzer) extractPhrases(query string, result *AnalyzedQuery) string {
	for _, match := range phraseRegex.FindAllStringSubmatch(query, -1) {
		phrase := strings.TrimSpace(match[1])
		if phrase != "" {
			result.Phrases = append(result.Phrases, strings.ToLower(phrase))
		}
	}
	return phraseRegex.ReplaceAllString(query, " ")
}

func (qa *QueryAnalyzer) extractTerms(query string, result *AnalyzedQuery) {
	for _, word := range strings.Fields(query) {
		if strings.EqualFold(word, "AND") || strings.EqualFold(word, "OR") || strings.EqualFold(word, "NOT") {
			continue
		}
		if strings.HasPrefix(word, "-") {
			if negated := qa.normalizeToken(strings.TrimPrefix(word, "-")); negated != "" {
				result.NegatedTerms = append(result.NegatedTerms, negated)
			}
			continue
		}
		if normalized := qa.normalizeToken(word); normalized != "" {
			result.Terms = append(result.Terms, normalized)
		}
	}
}

// normalizeToken lowercases a token and trims edge punctuation, keeping
// internal punctuation such as the colon in "5:20".
func (qa *QueryAnalyzer) normalizeToken(token string) string {
	token = strings.ToLower(token)
	return strings.TrimFunc(token, func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '_'
	})
}

// AllWords returns the terms followed by the words of every phrase, without duplicates.
func (aq *AnalyzedQuery) AllWords() []string {
	seen := make(map[string]bool)
	words := make([]string, 0, len(aq.Terms))
	add := func(w string) {
		if w != "" && !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	for _, t := range aq.Terms {
		add(t)
	}
	qa := QueryAnalyzer{}
	for _, p := range aq.Phrases {
		for _, w := range strings.Fields(p) {
			add(qa.normalizeToken(w))
		}
	}
	return words
}
