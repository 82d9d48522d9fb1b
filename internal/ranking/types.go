// Package ranking analyzes query text and maps modality cues in it to score
// bonuses applied by the retriever.
package ranking

import "github.com/hyperjump/shiori/internal/models"

// AnalyzedQuery holds the parsed form of a query.
type AnalyzedQuery struct {
	// Original is the query as typed.
	Original string
	// Terms are the normalized tokens outside quoted phrases.
	Terms []string
	// Phrases are double-quoted phrases, lowercased.
	Phrases []string
	// NegatedTerms are terms prefixed with '-'.
	NegatedTerms []string
}

// MatchedCue is a cue that fired for a query.
type MatchedCue struct {
	Name     string          `json:"name"`
	Modality models.Modality `json:"modality"`
	Bonus    float64         `json:"bonus"`
}

// Boosts is the additive bonus per modality for one query.
type Boosts struct {
	Cues  []MatchedCue
	ByMod map[models.Modality]float64
}

// For returns the bonus for fragments of modality m.
func (b *Boosts) For(m models.Modality) float64 {
	if b == nil {
		return 0
	}
	return b.ByMod[m]
}
