package alert

import (
	"strings"
	"time"
)

type Category string

const FallbackCategory Category = "uncategorized"

type Polarity string

const (
	PolarityBoost   Polarity = "boost"
	PolarityPenalty Polarity = "penalty"
)

// Item is one normalized piece of content produced by a source adapter.
type Item struct {
	ID           string // optional, source-provided
	SourceName   string
	Title        string
	Body         string
	URL          string
	PublishedAt  time.Time
	LanguageHint string

	Category      Category // source default, used only when no keyword matches
	PriorityBoost int      // per-source additive score
}

type Match struct {
	Keyword  string
	Weight   int
	Polarity Polarity
	Group    string
	Category Category
	Language string
}

type ScoredItem struct {
	Item
	Score    int
	Category Category
	Matches  []Match
}

func (i Item) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// Normalize trims text fields and fills PublishedAt with the ingestion time when
// the source did not provide one.
func (i Item) Normalize(now time.Time) Item {
	i.Title = strings.TrimSpace(i.Title)
	i.Body = strings.TrimSpace(i.Body)
	i.URL = strings.TrimSpace(i.URL)
	if i.PublishedAt.IsZero() {
		i.PublishedAt = now.UTC()
	}
	return i
}

func (s ScoredItem) Keywords() []string {
	keywords := make([]string, 0, len(s.Matches))
	for _, m := range s.Matches {
		keywords = append(keywords, m.Keyword)
	}
	return keywords
}
