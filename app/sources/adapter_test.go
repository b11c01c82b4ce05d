package sources

import (
	"errors"
	"testing"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
)

func boolPtr(b bool) *bool { return &b }

func TestRegistryBuild(t *testing.T) {
	registry := NewRegistry(Deps{})

	sources := []config.Source{
		{Name: "coindesk", Kind: KindRSS, URL: "https://example.com/feed.xml"},
		{Name: "whales", Kind: KindNitter, Handles: []config.Handle{{Handle: "whale_alert"}}},
		{Name: "relays", Kind: KindNostr, Relays: []string{"wss://relay.example"}},
		{Name: "disabled", Kind: KindRSS, URL: "https://example.com/other.xml", Enabled: boolPtr(false)},
		{Name: "broken", Kind: KindRSS},
	}

	adapters, errs := registry.Build(sources)

	if len(adapters) != 2 {
		t.Fatalf("Expected 2 adapters, got %d", len(adapters))
	}
	if adapters[0].Name() != "coindesk" || adapters[0].Kind() != KindRSS {
		t.Errorf("Unexpected first adapter: %s/%s", adapters[0].Name(), adapters[0].Kind())
	}
	if adapters[1].Name() != "whales" || adapters[1].Kind() != KindNitter {
		t.Errorf("Unexpected second adapter: %s/%s", adapters[1].Name(), adapters[1].Kind())
	}

	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d: %v", len(errs), errs)
	}

	var missing *alert.MissingAdapterError
	if !errors.As(errs[0], &missing) {
		t.Fatalf("Expected MissingAdapterError, got %T", errs[0])
	}
	if missing.Source != "relays" || missing.Kind != KindNostr {
		t.Errorf("Unexpected missing adapter error: %+v", missing)
	}
	if !errors.Is(errs[0], alert.ErrAdapterMissing) {
		t.Error("Expected error to match ErrAdapterMissing")
	}

	if errors.Is(errs[1], alert.ErrAdapterMissing) {
		t.Error("Expected factory error not to be a missing adapter error")
	}
}

func TestRegistryKinds(t *testing.T) {
	kinds := NewRegistry(Deps{}).Kinds()

	if len(kinds) != 2 || kinds[0] != KindNitter || kinds[1] != KindRSS {
		t.Errorf("Expected [nitter rss], got %v", kinds)
	}
}

func TestCleanSummary(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"plain", "plain text", "plain text"},
		{"tags stripped", "<p>Hello <b>world</b></p><script>alert(1)</script>", "Hello world"},
		{"whitespace collapsed", "<div>\n  a \n\n b </div>", "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanSummary(tt.input); got != tt.expected {
				t.Errorf("cleanSummary(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	if !containsAny("anything", nil) {
		t.Error("Expected empty keyword list to match")
	}
	if !containsAny("Regulação da CVM", []string{"regulacao"}) {
		t.Error("Expected diacritic-insensitive match")
	}
	if containsAny("Bitcoin price", []string{"ethereum", "solana"}) {
		t.Error("Expected no match")
	}
}
