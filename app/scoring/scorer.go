package scoring

import (
	"fmt"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
	"github.com/lysyi3m/alert-comb/app/textutil"
)

type keyword struct {
	raw    string
	folded string
	whole  bool
}

func (k keyword) matches(foldedText string) bool {
	if k.whole {
		return textutil.ContainsWholeWord(foldedText, k.folded)
	}
	return textutil.ContainsWord(foldedText, k.folded)
}

type group struct {
	name     string
	language string
	category alert.Category
	polarity alert.Polarity
	weight   int // signed
	keywords []keyword
}

// Scorer assigns a signed score and a category to items from keyword groups.
// It is read-only after construction and safe for concurrent use.
type Scorer struct {
	groups     []group
	categories []alert.Category // first-seen configuration order, for tie-breaks
	minScore   int
	fallback   alert.Category
}

func NewScorer(groups []config.KeywordGroup, minScore int, fallback string) (*Scorer, error) {
	s := &Scorer{
		groups:   make([]group, 0, len(groups)),
		minScore: minScore,
		fallback: alert.Category(fallback),
	}
	if s.fallback == "" {
		s.fallback = alert.FallbackCategory
	}

	seen := make(map[alert.Category]bool)
	for i, g := range groups {
		compiled, err := compileGroup(g)
		if err != nil {
			return nil, fmt.Errorf("keyword group at index %d: %w", i, err)
		}
		s.groups = append(s.groups, compiled)

		if !seen[compiled.category] {
			seen[compiled.category] = true
			s.categories = append(s.categories, compiled.category)
		}
	}

	return s, nil
}

func compileGroup(g config.KeywordGroup) (group, error) {
	polarity := alert.Polarity(g.Polarity)
	weight := g.Weight
	if weight < 0 {
		weight = -weight
	}

	switch polarity {
	case alert.PolarityBoost:
	case alert.PolarityPenalty:
		weight = -weight
	case "":
		polarity = alert.PolarityBoost
		if g.Weight < 0 {
			polarity = alert.PolarityPenalty
			weight = -weight
		}
	default:
		return group{}, fmt.Errorf("invalid polarity %q", g.Polarity)
	}

	compiled := group{
		name:     g.Name,
		language: g.Language,
		category: alert.Category(g.Category),
		polarity: polarity,
		weight:   weight,
		keywords: make([]keyword, 0, len(g.Words)+len(g.WholeWords)),
	}
	for _, word := range g.Words {
		if folded := textutil.Fold(word); folded != "" {
			compiled.keywords = append(compiled.keywords, keyword{raw: word, folded: folded})
		}
	}
	for _, word := range g.WholeWords {
		if folded := textutil.Fold(word); folded != "" {
			compiled.keywords = append(compiled.keywords, keyword{raw: word, folded: folded, whole: true})
		}
	}

	return compiled, nil
}

// Score evaluates every keyword group against the item's title and body.
// The language hint is ignored on purpose: all groups always apply.
func (s *Scorer) Score(item alert.Item) (alert.ScoredItem, error) {
	if err := item.Validate(); err != nil {
		return alert.ScoredItem{}, &alert.ScoringError{Title: item.Title, Err: err}
	}

	text := textutil.Fold(item.Title + " " + item.Body)

	scored := alert.ScoredItem{
		Item:  item,
		Score: item.PriorityBoost,
	}

	best := make(map[alert.Category]int)
	for _, g := range s.groups {
		for _, kw := range g.keywords {
			if !kw.matches(text) {
				continue
			}

			scored.Score += g.weight
			scored.Matches = append(scored.Matches, alert.Match{
				Keyword:  kw.raw,
				Weight:   g.weight,
				Polarity: g.polarity,
				Group:    g.name,
				Category: g.category,
				Language: g.language,
			})

			if g.weight > 0 && g.weight > best[g.category] {
				best[g.category] = g.weight
			}
		}
	}

	scored.Category = s.pickCategory(best, item.Category)

	return scored, nil
}

// pickCategory returns the category with the highest positive match weight.
// Ties go to the category that appears first in configuration.
func (s *Scorer) pickCategory(best map[alert.Category]int, sourceDefault alert.Category) alert.Category {
	winner := alert.Category("")
	winnerWeight := 0
	for _, category := range s.categories {
		if w := best[category]; w > winnerWeight {
			winner = category
			winnerWeight = w
		}
	}

	if winner != "" {
		return winner
	}
	if sourceDefault != "" {
		return sourceDefault
	}
	return s.fallback
}

func (s *Scorer) Passes(item alert.ScoredItem) bool {
	return item.Score >= s.minScore
}

func (s *Scorer) MinScore() int {
	return s.minScore
}
