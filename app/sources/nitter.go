package sources

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
	"github.com/lysyi3m/alert-comb/app/textutil"
)

const (
	defaultNitterInstance = "nitter.privacydev.net"
	nitterTimelineLimit   = 15
	nitterTitleLength     = 80
)

// NitterAdapter scrapes account timelines from Nitter front-ends, rotating
// through instances and skipping ones that recently failed.
type NitterAdapter struct {
	source    config.Source
	deps      Deps
	instances []string

	// pause between handles, randomized in [handleDelay/2, handleDelay*3/2)
	handleDelay time.Duration

	mu       sync.Mutex
	next     int
	failed   map[string]bool
	lastSeen map[string]string
}

var _ Adapter = (*NitterAdapter)(nil)

func NewNitterAdapter(source config.Source, deps Deps) (Adapter, error) {
	if len(source.Handles) == 0 {
		return nil, fmt.Errorf("nitter source requires at least one handle")
	}
	for i, h := range source.Handles {
		if strings.TrimSpace(strings.TrimPrefix(h.Handle, "@")) == "" {
			return nil, fmt.Errorf("nitter handle at index %d is empty", i)
		}
	}

	instances := source.Instances
	if len(instances) == 0 {
		instances = []string{defaultNitterInstance}
	}

	if proxy := cmp.Or(source.ProxyURL, deps.ProxyURL); proxy != "" {
		client, err := proxiedClient(deps.HTTPClient, proxy)
		if err != nil {
			return nil, err
		}
		deps.HTTPClient = client
	}

	return &NitterAdapter{
		source:      source,
		deps:        deps,
		instances:   instances,
		handleDelay: time.Second,
		failed:      make(map[string]bool),
		lastSeen:    make(map[string]string),
	}, nil
}

// proxiedClient copies base with a transport that dials through proxyURL.
// net/http speaks socks5 and http proxies natively.
func proxiedClient(base *http.Client, proxyURL string) (*http.Client, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", proxyURL, err)
	}
	switch u.Scheme {
	case "socks5", "socks5h", "http", "https":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q: missing host", proxyURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(u)

	client := &http.Client{Transport: transport, Timeout: 30 * time.Second}
	if base != nil {
		client.Timeout = base.Timeout
		client.CheckRedirect = base.CheckRedirect
	}
	return client, nil
}

func (a *NitterAdapter) Name() string {
	return a.source.Name
}

func (a *NitterAdapter) Kind() string {
	return KindNitter
}

// Poll fetches every handle. It fails only when no handle could be fetched.
func (a *NitterAdapter) Poll(ctx context.Context) ([]alert.Item, error) {
	var (
		items    []alert.Item
		failures int
		lastErr  error
	)

	for i, handle := range a.source.Handles {
		if i > 0 && a.handleDelay > 0 {
			jitter := a.handleDelay/2 + time.Duration(rand.Int63n(int64(a.handleDelay)))
			select {
			case <-ctx.Done():
				return items, &alert.FetchError{Source: a.source.Name, Err: ctx.Err()}
			case <-time.After(jitter):
			}
		}

		tweets, err := a.fetchHandle(ctx, handle)
		if err != nil {
			failures++
			lastErr = err
			slog.Warn("Failed to fetch handle", "source", a.source.Name, "handle", handle.Handle, "error", err)
			continue
		}
		items = append(items, tweets...)
	}

	if failures == len(a.source.Handles) {
		return nil, &alert.FetchError{Source: a.source.Name, Err: lastErr}
	}

	return items, nil
}

func (a *NitterAdapter) nextInstance() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	available := make([]string, 0, len(a.instances))
	for _, instance := range a.instances {
		if !a.failed[instance] {
			available = append(available, instance)
		}
	}
	if len(available) == 0 {
		clear(a.failed)
		available = a.instances
	}

	instance := available[a.next%len(available)]
	a.next++
	return instance
}

func (a *NitterAdapter) markFailed(instance string) {
	a.mu.Lock()
	a.failed[instance] = true
	a.mu.Unlock()
}

func instanceURL(instance, handle string) string {
	base := strings.TrimRight(instance, "/")
	if !strings.Contains(base, "://") {
		scheme := "https"
		if strings.HasSuffix(base, ".onion") {
			scheme = "http"
		}
		base = scheme + "://" + base
	}
	return base + "/" + handle
}

func (a *NitterAdapter) fetchHandle(ctx context.Context, h config.Handle) ([]alert.Item, error) {
	handle := strings.TrimPrefix(strings.TrimSpace(h.Handle), "@")

	var lastErr error
	for range a.instances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		instance := a.nextInstance()
		data, err := fetch(ctx, a.deps.HTTPClient, instanceURL(instance, handle), a.deps.UserAgent, "text/html,application/xhtml+xml")
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests {
				slog.Warn("Rate limited by instance", "instance", instance, "handle", handle)
			}
			a.markFailed(instance)
			lastErr = err
			continue
		}

		return a.parseTimeline(data, handle, h)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no nitter instances available")
	}
	return nil, lastErr
}

func (a *NitterAdapter) parseTimeline(data []byte, handle string, h config.Handle) ([]alert.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse timeline: %w", err)
	}

	a.mu.Lock()
	lastSeen := a.lastSeen[handle]
	a.mu.Unlock()

	newest := lastSeen
	now := a.deps.Now().UTC()
	keywords := h.KeywordsRequired
	if len(keywords) == 0 {
		keywords = a.source.KeywordsRequired
	}

	var items []alert.Item
	doc.Find(".timeline-item").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= nitterTimelineLimit {
			return false
		}

		href, ok := s.Find(".tweet-link").First().Attr("href")
		if !ok {
			return true
		}
		id := tweetID(href)
		if id == "" {
			return true
		}

		if lastSeen != "" && !newerID(id, lastSeen) {
			return true
		}
		if newest == "" || newerID(id, newest) {
			newest = id
		}

		content := strings.Join(strings.Fields(s.Find(".tweet-body .tweet-content").First().Text()), " ")
		if content == "" {
			return true
		}
		if !containsAny(content, keywords) {
			return true
		}

		items = append(items, alert.Item{
			ID:            id,
			SourceName:    a.source.Name,
			Title:         fmt.Sprintf("@%s: %s", handle, textutil.Truncate(content, nitterTitleLength+3)),
			Body:          content,
			URL:           fmt.Sprintf("https://twitter.com/%s/status/%s", handle, id),
			PublishedAt:   now,
			LanguageHint:  cmp.Or(a.source.Language, "en"),
			Category:      alert.Category(cmp.Or(h.Category, a.source.Category)),
			PriorityBoost: a.source.PriorityBoost + h.PriorityBoost,
		})
		return true
	})

	if newest != "" {
		a.mu.Lock()
		a.lastSeen[handle] = newest
		a.mu.Unlock()
	}

	return items, nil
}

// tweetID extracts the status id from a "/handle/status/123#m" link.
func tweetID(href string) string {
	href = strings.TrimSuffix(href, "#m")
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	parts := strings.Split(strings.TrimRight(href, "/"), "/")
	return parts[len(parts)-1]
}

// newerID compares status ids numerically, falling back to length then
// lexical order for non-numeric ids.
func newerID(id, than string) bool {
	a, errA := strconv.ParseUint(id, 10, 64)
	b, errB := strconv.ParseUint(than, 10, 64)
	if errA == nil && errB == nil {
		return a > b
	}
	if len(id) != len(than) {
		return len(id) > len(than)
	}
	return id > than
}
