package search

import (
	"sort"

	"github.com/hyperjump/shiori/internal/models"
)

// Default overlap slack used when merging candidates of one document.
const (
	DefaultCharSlack = 150
	DefaultTimeSlack = 30.0
)

// Dedup keeps, for each group of same-document candidates whose locators
// overlap within the slack, only the highest-scoring one. candidates must be
// sorted by descending score; the result keeps that order.
func Dedup(candidates []models.RetrievedFragment, charSlack int, timeSlack float64) []models.RetrievedFragment {
	kept := make([]models.RetrievedFragment, 0, len(candidates))
	byDoc := make(map[string][]int)
	for _, c := range candidates {
		dup := false
		for _, i := range byDoc[c.Fragment.DocumentID] {
			if kept[i].Fragment.Locator.Overlaps(c.Fragment.Locator, charSlack, timeSlack) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		byDoc[c.Fragment.DocumentID] = append(byDoc[c.Fragment.DocumentID], len(kept))
		kept = append(kept, c)
	}
	return kept
}

// sortFragments orders by descending score, then ascending fragment ID.
func sortFragments(frags []models.RetrievedFragment) {
	sort.SliceStable(frags, func(i, j int) bool {
		if frags[i].Score != frags[j].Score {
			return frags[i].Score > frags[j].Score
		}
		return frags[i].Fragment.ID < frags[j].Fragment.ID
	})
}
