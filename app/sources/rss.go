package sources

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
	"github.com/lysyi3m/alert-comb/app/textutil"
)

const rssAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// RSSAdapter polls an RSS or Atom feed and emits entries newer than the
// newest entry of the previous poll.
type RSSAdapter struct {
	source config.Source
	deps   Deps
	parser *gofeed.Parser

	mu       sync.Mutex
	lastSeen time.Time
}

var _ Adapter = (*RSSAdapter)(nil)

func NewRSSAdapter(source config.Source, deps Deps) (Adapter, error) {
	if source.URL == "" {
		return nil, fmt.Errorf("rss source requires url")
	}
	if _, err := url.ParseRequestURI(source.URL); err != nil {
		return nil, fmt.Errorf("invalid rss url: %w", err)
	}

	return &RSSAdapter{
		source: source,
		deps:   deps,
		parser: gofeed.NewParser(),
	}, nil
}

func (a *RSSAdapter) Name() string {
	return a.source.Name
}

func (a *RSSAdapter) Kind() string {
	return KindRSS
}

func (a *RSSAdapter) Poll(ctx context.Context) ([]alert.Item, error) {
	data, err := fetch(ctx, a.deps.HTTPClient, a.source.URL, a.deps.UserAgent, rssAccept)
	if err != nil {
		return nil, &alert.FetchError{Source: a.source.Name, Err: err}
	}

	feed, err := a.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &alert.FetchError{Source: a.source.Name, Err: fmt.Errorf("failed to parse feed: %w", err)}
	}

	a.mu.Lock()
	lastSeen := a.lastSeen
	a.mu.Unlock()

	newest := lastSeen
	items := make([]alert.Item, 0, len(feed.Items))
	skipped := 0

	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}

		published := entryTime(entry)
		if !published.IsZero() {
			if !published.After(lastSeen) {
				continue
			}
			if published.After(newest) {
				newest = published
			}
		}

		summary := cleanSummary(cmp.Or(entry.Description, entry.Content))
		if !containsAny(entry.Title+" "+summary, a.source.KeywordsRequired) {
			skipped++
			continue
		}

		if summary == "" && a.source.ExtractContent && entry.Link != "" {
			summary = a.extract(ctx, entry.Link)
		}

		items = append(items, alert.Item{
			ID:            cmp.Or(entry.GUID, entry.Link),
			SourceName:    a.source.Name,
			Title:         entry.Title,
			Body:          summary,
			URL:           entry.Link,
			PublishedAt:   published,
			LanguageHint:  cmp.Or(a.source.Language, feed.Language),
			Category:      alert.Category(a.source.Category),
			PriorityBoost: a.source.PriorityBoost,
		})
	}

	a.mu.Lock()
	a.lastSeen = newest
	a.mu.Unlock()

	if len(items) > 0 {
		slog.Debug("Feed polled", "source", a.source.Name, "entries", len(feed.Items), "new", len(items), "skipped", skipped)
	}

	return items, nil
}

func entryTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	return time.Time{}
}

// extract fetches the linked article and returns its readable text. Failures
// are logged and yield an empty summary.
func (a *RSSAdapter) extract(ctx context.Context, link string) string {
	pageURL, err := url.Parse(link)
	if err != nil {
		return ""
	}

	data, err := fetch(ctx, a.deps.HTTPClient, link, a.deps.UserAgent, "text/html")
	if err != nil {
		slog.Debug("Content extraction fetch failed", "source", a.source.Name, "link", link, "error", err)
		return ""
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		slog.Debug("Content extraction failed", "source", a.source.Name, "link", link, "error", err)
		return ""
	}

	return textutil.Truncate(cleanHTML(article.TextContent), maxSummaryLength)
}
