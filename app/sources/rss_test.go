package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Crypto News</title>
  <link>https://news.example.com</link>
  <language>en</language>
  <item>
    <title>Exchange X hacked, funds drained</title>
    <link>https://news.example.com/hack</link>
    <guid>hack-1</guid>
    <description>&lt;p&gt;Attackers &lt;b&gt;exploited&lt;/b&gt; a hot wallet.&lt;/p&gt;</description>
    <pubDate>Sat, 01 Mar 2025 12:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Weekly market recap</title>
    <link>https://news.example.com/recap</link>
    <guid>recap-1</guid>
    <description>Prices moved sideways.</description>
    <pubDate>Sat, 01 Mar 2025 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

func newFeedServer(t *testing.T, body *atomic.Value) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "alert-comb/test" {
			t.Errorf("Expected user agent header, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body.Load().(string)))
	}))
	t.Cleanup(server.Close)
	return server
}

func newRSS(t *testing.T, source config.Source, server *httptest.Server) *RSSAdapter {
	t.Helper()

	source.URL = server.URL
	adapter, err := NewRSSAdapter(source, Deps{HTTPClient: server.Client(), UserAgent: "alert-comb/test"})
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	return adapter.(*RSSAdapter)
}

func TestRSSAdapterPoll(t *testing.T) {
	var body atomic.Value
	body.Store(testFeed)
	server := newFeedServer(t, &body)

	adapter := newRSS(t, config.Source{Name: "coindesk", Category: "news", PriorityBoost: 10, Language: "en"}, server)

	items, err := adapter.Poll(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	item := items[0]
	if item.Title != "Exchange X hacked, funds drained" {
		t.Errorf("Unexpected title: %q", item.Title)
	}
	if item.Body != "Attackers exploited a hot wallet." {
		t.Errorf("Expected HTML stripped summary, got %q", item.Body)
	}
	if item.ID != "hack-1" || item.URL != "https://news.example.com/hack" {
		t.Errorf("Unexpected id/url: %s %s", item.ID, item.URL)
	}
	if item.SourceName != "coindesk" || item.Category != "news" || item.PriorityBoost != 10 || item.LanguageHint != "en" {
		t.Errorf("Expected source metadata on item, got %+v", item)
	}
	if item.PublishedAt.IsZero() {
		t.Error("Expected published time to be parsed")
	}
}

func TestRSSAdapterOnlyNewEntries(t *testing.T) {
	var body atomic.Value
	body.Store(testFeed)
	server := newFeedServer(t, &body)

	adapter := newRSS(t, config.Source{Name: "coindesk"}, server)

	if _, err := adapter.Poll(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	items, err := adapter.Poll(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items on unchanged feed, got %d", len(items))
	}

	newer := strings.Replace(testFeed, "<item>", `<item>
    <title>Regulator sues exchange</title>
    <link>https://news.example.com/sec</link>
    <pubDate>Sat, 01 Mar 2025 13:00:00 GMT</pubDate>
  </item>
  <item>`, 1)
	body.Store(newer)

	items, err = adapter.Poll(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Regulator sues exchange" {
		t.Errorf("Expected only the newer entry, got %+v", items)
	}
}

func TestRSSAdapterKeywordsRequired(t *testing.T) {
	var body atomic.Value
	body.Store(testFeed)
	server := newFeedServer(t, &body)

	adapter := newRSS(t, config.Source{Name: "coindesk", KeywordsRequired: []string{"hacked"}}, server)

	items, err := adapter.Poll(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "hack-1" {
		t.Errorf("Expected only the matching entry, got %+v", items)
	}
}

func TestRSSAdapterFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := newRSS(t, config.Source{Name: "coindesk"}, server)

	_, err := adapter.Poll(context.Background())

	var fetchErr *alert.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %T: %v", err, err)
	}
	if fetchErr.Source != "coindesk" {
		t.Errorf("Expected source coindesk, got %s", fetchErr.Source)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected wrapped 503 status error, got %v", err)
	}
}

func TestRSSAdapterInvalidFeed(t *testing.T) {
	var body atomic.Value
	body.Store("not a feed")
	server := newFeedServer(t, &body)

	adapter := newRSS(t, config.Source{Name: "coindesk"}, server)

	if _, err := adapter.Poll(context.Background()); err == nil {
		t.Error("Expected parse error")
	}
}

func TestRSSAdapterExtractContent(t *testing.T) {
	article := `<html><head><title>Hack</title></head><body><article>
<h1>Exchange X hacked</h1>
<p>` + strings.Repeat("The exchange confirmed that attackers drained its hot wallet overnight. ", 8) + `</p>
<p>` + strings.Repeat("Withdrawals are paused while the team investigates the incident. ", 8) + `</p>
</article></body></html>`

	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>
<item><title>Exchange X hacked</title><link>` + serverURL + `/article</link>
<pubDate>Sat, 01 Mar 2025 12:00:00 GMT</pubDate></item></channel></rss>`))
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(article))
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	adapter, err := NewRSSAdapter(config.Source{Name: "coindesk", URL: server.URL + "/feed", ExtractContent: true}, Deps{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}

	items, err := adapter.Poll(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if !strings.Contains(items[0].Body, "attackers drained its hot wallet") {
		t.Errorf("Expected extracted article text, got %q", items[0].Body)
	}
	if len([]rune(items[0].Body)) > maxSummaryLength {
		t.Errorf("Expected summary truncated to %d runes, got %d", maxSummaryLength, len([]rune(items[0].Body)))
	}
}

func TestNewRSSAdapterValidation(t *testing.T) {
	if _, err := NewRSSAdapter(config.Source{Name: "x"}, Deps{}); err == nil {
		t.Error("Expected error for missing url")
	}
	if _, err := NewRSSAdapter(config.Source{Name: "x", URL: "not a url"}, Deps{}); err == nil {
		t.Error("Expected error for invalid url")
	}
}
