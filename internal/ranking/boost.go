package ranking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

type cue struct {
	CueConfig
	re    *regexp.Regexp
	words map[string]bool
}

// CueTable is a compiled, immutable boost table.
type CueTable struct {
	cues     []cue
	analyzer *QueryAnalyzer
}

// NewCueTable compiles cues. An empty slice yields the default table.
func NewCueTable(cues []CueConfig) (*CueTable, error) {
	if len(cues) == 0 {
		cues = DefaultCues()
	}
	t := &CueTable{analyzer: NewQueryAnalyzer()}
	for _, c := range cues {
		if _, err := models.ParseModality(string(c.Modality)); err != nil {
			return nil, fmt.Errorf("cue %q: %w", c.Name, err)
		}
		if c.Pattern == "" && len(c.Words) == 0 {
			return nil, fmt.Errorf("cue %q has neither pattern nor words", c.Name)
		}
		compiled := cue{CueConfig: c, words: make(map[string]bool, len(c.Words))}
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return nil, fmt.Errorf("cue %q: %w", c.Name, err)
			}
			compiled.re = re
		}
		for _, w := range c.Words {
			compiled.words[strings.ToLower(w)] = true
		}
		t.cues = append(t.cues, compiled)
	}
	return t, nil
}

// Boosts evaluates every cue against query. The result depends only on the
// query text.
func (t *CueTable) Boosts(query string) *Boosts {
	analyzed := t.analyzer.Analyze(query)
	words := analyzed.AllWords()
	lower := strings.ToLower(query)

	b := &Boosts{ByMod: make(map[models.Modality]float64)}
	for _, c := range t.cues {
		if !c.matches(lower, words) {
			continue
		}
		b.Cues = append(b.Cues, MatchedCue{Name: c.Name, Modality: c.Modality, Bonus: c.Bonus})
		b.ByMod[c.Modality] += c.Bonus
	}
	return b
}

func (c *cue) matches(lower string, words []string) bool {
	if c.re != nil && c.re.MatchString(lower) {
		return true
	}
	for _, w := range words {
		if c.words[w] || (len(w) > 1 && strings.HasSuffix(w, "s") && c.words[w[:len(w)-1]]) {
			return true
		}
	}
	return false
}

// Cues returns the table rows in evaluation order.
func (t *CueTable) Cues() []CueConfig {
	out := make([]CueConfig, len(t.cues))
	for i, c := range t.cues {
		out[i] = c.CueConfig
	}
	return out
}
