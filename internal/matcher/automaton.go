// Package matcher builds immutable per-category tries from sensitive rules and
// scans text against them.
package matcher

import (
	"sort"
	"time"

	"github.com/cloudflare/ahocorasick"

	"github.com/noah-isme/moderation-engine/internal/models"
)

type terminal struct {
	ruleID   int64
	term     string
	severity models.Severity
}

type node struct {
	children map[rune]*node
	terminal *terminal
}

// Automaton is the trie for a single category.
type Automaton struct {
	category models.RuleCategory
	root     *node
	terms    int
}

func newAutomaton(category models.RuleCategory) *Automaton {
	return &Automaton{category: category, root: &node{}}
}

func (a *Automaton) insert(rule models.SensitiveRule) {
	cur := a.root
	for _, r := range rule.Term {
		next, ok := cur.children[r]
		if !ok {
			if cur.children == nil {
				cur.children = make(map[rune]*node)
			}
			next = &node{}
			cur.children[r] = next
		}
		cur = next
	}
	if cur.terminal == nil {
		a.terms++
	}
	cur.terminal = &terminal{ruleID: rule.ID, term: rule.Term, severity: rule.Severity}
}

// longestAt walks the trie from text[start] and returns the longest terminal
// passed on the way together with its exclusive end index.
func (a *Automaton) longestAt(text []rune, start int) (*terminal, int) {
	cur := a.root
	var best *terminal
	end := -1
	for i := start; i < len(text); i++ {
		next, ok := cur.children[text[i]]
		if !ok {
			break
		}
		cur = next
		if cur.terminal != nil {
			best = cur.terminal
			end = i + 1
		}
	}
	return best, end
}

func (a *Automaton) scan(text []rune, hits []models.RuleHit) []models.RuleHit {
	for i := 0; i < len(text); {
		t, end := a.longestAt(text, i)
		if t == nil || end <= i {
			i++
			continue
		}
		hits = append(hits, models.RuleHit{
			RuleID:     t.ruleID,
			Term:       t.term,
			Category:   a.category,
			Severity:   t.severity,
			StartIndex: i,
			EndIndex:   end,
		})
		i = end
	}
	return hits
}

// Snapshot is an immutable set of automata. It is safe for concurrent use.
type Snapshot struct {
	automata   map[models.RuleCategory]*Automaton
	categories []models.RuleCategory
	contains   *ahocorasick.Matcher
	rules      int
	skipped    int
	builtAt    time.Time
	generation uint64
}

// Stats describes a snapshot.
type Stats struct {
	Generation uint64                      `json:"generation"`
	BuiltAt    time.Time                   `json:"builtAt"`
	Rules      int                         `json:"rules"`
	Skipped    int                         `json:"skipped"`
	Terms      map[models.RuleCategory]int `json:"terms"`
}

// Build constructs a snapshot from rules effective at now. Disabled rules,
// rules outside their validity window, empty terms and match modes the
// scanner does not execute are left out.
func Build(rules []models.SensitiveRule, now time.Time, generation uint64) *Snapshot {
	s := &Snapshot{
		automata:   make(map[models.RuleCategory]*Automaton),
		builtAt:    now,
		generation: generation,
	}
	seen := make(map[string]struct{}, len(rules))
	words := make([]string, 0, len(rules))
	for _, rule := range rules {
		if rule.Term == "" || !rule.IsEffective(now) {
			continue
		}
		if rule.MatchMode != "" && !rule.MatchMode.Supported() {
			s.skipped++
			continue
		}
		a, ok := s.automata[rule.Category]
		if !ok {
			a = newAutomaton(rule.Category)
			s.automata[rule.Category] = a
			s.categories = append(s.categories, rule.Category)
		}
		a.insert(rule)
		s.rules++
		if _, dup := seen[rule.Term]; !dup {
			seen[rule.Term] = struct{}{}
			words = append(words, rule.Term)
		}
	}
	sort.Slice(s.categories, func(i, j int) bool {
		return categoryOrder(s.categories[i]) < categoryOrder(s.categories[j])
	})
	if len(words) > 0 {
		s.contains = ahocorasick.NewStringMatcher(words)
	}
	return s
}

// Empty returns a snapshot that never matches.
func Empty(now time.Time) *Snapshot {
	return Build(nil, now, 0)
}

// Generation identifies the build that produced the snapshot.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// BuiltAt is the time the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Stats summarises the snapshot contents.
func (s *Snapshot) Stats() Stats {
	terms := make(map[models.RuleCategory]int, len(s.automata))
	for category, a := range s.automata {
		terms[category] = a.terms
	}
	return Stats{
		Generation: s.generation,
		BuiltAt:    s.builtAt,
		Rules:      s.rules,
		Skipped:    s.skipped,
		Terms:      terms,
	}
}

func categoryOrder(category models.RuleCategory) int {
	for i, known := range models.RuleCategories {
		if known == category {
			return i
		}
	}
	return len(models.RuleCategories)
}
