package tasks

import (
	"context"
	"strings"
	"testing"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/dedup"
	"github.com/lysyi3m/alert-comb/app/scoring"
)

// panickyScorer panics on titles containing "boom"
type panickyScorer struct {
	*scoring.Scorer
}

func (p panickyScorer) Score(item alert.Item) (alert.ScoredItem, error) {
	if strings.Contains(item.Title, "boom") {
		panic("scorer exploded")
	}
	return p.Scorer.Score(item)
}

func TestPipelineExploitScenario(t *testing.T) {
	dispatcher := &MockDispatcher{}
	pipeline := newTestPipeline(t, dispatcher)

	result := pipeline.Process(context.Background(), "rss-a", []alert.Item{
		{Title: "Protocol X exploited, $10M stolen"},
	})

	if result.Dispatched != 1 {
		t.Fatalf("Expected 1 dispatched item, got %+v", result)
	}

	sent := dispatcher.sent[0]
	if sent.Score != 50 || sent.Category != "critical" {
		t.Errorf("Expected score 50 category critical, got %d/%s", sent.Score, sent.Category)
	}
	if sent.SourceName != "rss-a" {
		t.Errorf("Expected source name filled in, got %q", sent.SourceName)
	}
	if sent.PublishedAt.IsZero() {
		t.Error("Expected published time to default to ingestion time")
	}
}

func TestPipelineNegativeNeverDispatched(t *testing.T) {
	dispatcher := &MockDispatcher{}
	pipeline := newTestPipeline(t, dispatcher)

	result := pipeline.Process(context.Background(), "rss-a", []alert.Item{
		{Title: "Coin Y ETF price prediction for 2025"},
	})

	if result.BelowThreshold != 1 || dispatcher.Count() != 0 {
		t.Errorf("Expected item below threshold and not dispatched, got %+v", result)
	}
}

func TestPipelineIsolatesItemFailures(t *testing.T) {
	scorer, err := scoring.NewScorer(testGroups(), 20, "uncategorized")
	if err != nil {
		t.Fatalf("Failed to create scorer: %v", err)
	}

	dispatcher := &MockDispatcher{}
	pipeline := NewPipeline(panickyScorer{scorer}, dedup.New(dedup.Options{}, nil), dispatcher)

	result := pipeline.Process(context.Background(), "rss-a", []alert.Item{
		{Title: "boom"},
		{Title: "   "},
		{Title: "Bridge exploit drains pool"},
	})

	if result.Errors != 2 {
		t.Errorf("Expected 2 item errors, got %d", result.Errors)
	}
	if result.Dispatched != 1 {
		t.Errorf("Expected sibling item to be dispatched, got %d", result.Dispatched)
	}
}

func TestPipelineDispatchFailureCounted(t *testing.T) {
	dispatcher := &MockDispatcher{fail: true}
	pipeline := newTestPipeline(t, dispatcher)

	result := pipeline.Process(context.Background(), "rss-a", []alert.Item{
		{Title: "Exchange hacked"},
		{Title: "Bridge exploit drains pool"},
	})

	if result.DispatchFailures != 2 {
		t.Errorf("Expected 2 dispatch failures, got %+v", result)
	}
}

func TestPipelinePreservesOrder(t *testing.T) {
	dispatcher := &MockDispatcher{}
	pipeline := newTestPipeline(t, dispatcher)

	pipeline.Process(context.Background(), "rss-a", []alert.Item{
		{Title: "First exploit reported"},
		{Title: "Second exchange hacked"},
		{Title: "Third wallet drained"},
	})

	if dispatcher.Count() != 3 {
		t.Fatalf("Expected 3 dispatches, got %d", dispatcher.Count())
	}
	for i, prefix := range []string{"First", "Second", "Third"} {
		if !strings.HasPrefix(dispatcher.sent[i].Title, prefix) {
			t.Errorf("Expected item %d to start with %s, got %q", i, prefix, dispatcher.sent[i].Title)
		}
	}
}

func TestPipelineLowerThresholdNeverDispatchesLess(t *testing.T) {
	items := []alert.Item{
		{Title: "Protocol exploit confirmed"},
		{Title: "ETF exploit rumor"},
		{Title: "Coin price prediction"},
		{Title: "Quiet day in markets"},
	}

	dispatched := func(threshold int) int {
		scorer, err := scoring.NewScorer(testGroups(), threshold, "uncategorized")
		if err != nil {
			t.Fatalf("Failed to create scorer: %v", err)
		}
		dispatcher := &MockDispatcher{}
		NewPipeline(scorer, dedup.New(dedup.Options{}, nil), dispatcher).Process(context.Background(), "rss-a", items)
		return dispatcher.Count()
	}

	previous := -1
	for _, threshold := range []int{60, 40, 20, 0, -40} {
		n := dispatched(threshold)
		if n < previous {
			t.Errorf("Lowering threshold to %d dispatched fewer items (%d < %d)", threshold, n, previous)
		}
		previous = n
	}
}

func TestPipelineCancelledContextStopsBatch(t *testing.T) {
	dispatcher := &MockDispatcher{}
	pipeline := newTestPipeline(t, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := pipeline.Process(ctx, "rss-a", []alert.Item{{Title: "Exchange hacked"}})

	if result.Dispatched != 0 || dispatcher.Count() != 0 {
		t.Errorf("Expected cancelled batch to dispatch nothing, got %+v", result)
	}
}
