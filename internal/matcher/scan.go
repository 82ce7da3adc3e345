package matcher

import (
	"sort"

	"github.com/noah-isme/moderation-engine/internal/models"
)

// Scan returns every hit in text. Each category is scanned independently over
// the original text with longest-match-wins semantics; hits never overlap
// within a category but may overlap across categories. Hits are ordered by
// category, then by start index.
func (s *Snapshot) Scan(text string) []models.RuleHit {
	if s == nil || len(s.categories) == 0 || text == "" {
		return nil
	}
	runes := []rune(text)
	var hits []models.RuleHit
	for _, category := range s.categories {
		hits = s.automata[category].scan(runes, hits)
	}
	return hits
}

// Contains reports whether any effective term occurs in text.
func (s *Snapshot) Contains(text string) bool {
	if s == nil || s.contains == nil || text == "" {
		return false
	}
	return len(s.contains.MatchThreadSafe([]byte(text))) > 0
}

// Redact replaces every hit span in text with replacement repeated to the
// span's length. Hits are applied in descending start order.
func Redact(text string, hits []models.RuleHit, replacement rune) string {
	if len(hits) == 0 || text == "" {
		return text
	}
	ordered := make([]models.RuleHit, len(hits))
	copy(ordered, hits)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartIndex > ordered[j].StartIndex
	})

	runes := []rune(text)
	for _, hit := range ordered {
		start, end := hit.StartIndex, hit.EndIndex
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		for i := start; i < end; i++ {
			runes[i] = replacement
		}
	}
	return string(runes)
}
