package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/dedup"
	"github.com/lysyi3m/alert-comb/app/dispatch"
)

// TaskSchedulerInterface is what the main application and the status API
// need from the scheduler.
// Example usage:
//
//	scheduler := NewScheduler(tasks, pipeline, Options{})
//	scheduler.Start()
//	defer scheduler.Stop(10 * time.Second)
type TaskSchedulerInterface interface {
	Start()
	Stop(grace time.Duration) bool
	Snapshots() []TaskSnapshot
	GetStats() Stats
	Health() map[string]interface{}
}

// ItemProcessor consumes one fetch batch in adapter order.
type ItemProcessor interface {
	Process(ctx context.Context, source string, items []alert.Item) BatchResult
}

type Scorer interface {
	Score(item alert.Item) (alert.ScoredItem, error)
	Passes(item alert.ScoredItem) bool
}

type Deduplicator interface {
	CheckAndAccept(item alert.Item) (bool, *dedup.Record)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, item alert.ScoredItem) dispatch.Result
}
