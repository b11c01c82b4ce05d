package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/textutil"
)

type BatchResult struct {
	Items            int
	Dispatched       int
	Duplicates       int
	BelowThreshold   int
	Errors           int
	DispatchFailures int
}

func (r BatchResult) counters() Counters {
	return Counters{
		Items:            int64(r.Items),
		Dispatched:       int64(r.Dispatched),
		Duplicates:       int64(r.Duplicates),
		BelowThreshold:   int64(r.BelowThreshold),
		ItemErrors:       int64(r.Errors),
		DispatchFailures: int64(r.DispatchFailures),
	}
}

type itemOutcome int

const (
	outcomeDispatched itemOutcome = iota
	outcomeDuplicate
	outcomeBelowThreshold
	outcomeDispatchFailed
	outcomeError
)

// Pipeline runs each item through scoring, the threshold check,
// deduplication and dispatch.
type Pipeline struct {
	scorer     Scorer
	dedup      Deduplicator
	dispatcher Dispatcher
	now        func() time.Time
}

var _ ItemProcessor = (*Pipeline)(nil)

func NewPipeline(scorer Scorer, dedup Deduplicator, dispatcher Dispatcher) *Pipeline {
	return &Pipeline{
		scorer:     scorer,
		dedup:      dedup,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Process handles items in order. A failing or panicking item is counted and
// logged; it never stops the remaining items.
func (p *Pipeline) Process(ctx context.Context, source string, items []alert.Item) BatchResult {
	result := BatchResult{Items: len(items)}

	for i, item := range items {
		if ctx.Err() != nil {
			slog.Debug("Pipeline cancelled, abandoning batch", "source", source, "remaining", len(items)-i)
			break
		}

		switch p.processItem(ctx, source, item) {
		case outcomeDispatched:
			result.Dispatched++
		case outcomeDuplicate:
			result.Duplicates++
		case outcomeBelowThreshold:
			result.BelowThreshold++
		case outcomeDispatchFailed:
			result.DispatchFailures++
		case outcomeError:
			result.Errors++
		}
	}

	return result
}

func (p *Pipeline) processItem(ctx context.Context, source string, item alert.Item) (outcome itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Item processing panicked", "source", source, "title", textutil.Truncate(item.Title, 60), "panic", fmt.Sprint(r))
			outcome = outcomeError
		}
	}()

	if item.SourceName == "" {
		item.SourceName = source
	}
	item = item.Normalize(p.now())

	scored, err := p.scorer.Score(item)
	if err != nil {
		slog.Warn("Dropping item", "source", source, "error", err)
		return outcomeError
	}

	if !p.scorer.Passes(scored) {
		slog.Debug("Score below threshold", "source", source, "score", scored.Score, "title", textutil.Truncate(item.Title, 60))
		return outcomeBelowThreshold
	}

	if duplicate, record := p.dedup.CheckAndAccept(item); duplicate {
		first := ""
		if record != nil {
			first = record.Source
		}
		slog.Debug("Skipping duplicate", "source", source, "first_seen_source", first, "title", textutil.Truncate(item.Title, 60))
		return outcomeDuplicate
	}

	if result := p.dispatcher.Dispatch(ctx, scored); !result.Sent {
		return outcomeDispatchFailed
	}

	return outcomeDispatched
}
