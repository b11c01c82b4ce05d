package api

import (
	"context"

	"github.com/lysyi3m/alert-comb/app/dedup"
	"github.com/lysyi3m/alert-comb/app/dispatch"
	"github.com/lysyi3m/alert-comb/app/feed"
	"github.com/lysyi3m/alert-comb/app/scoring"
	"github.com/lysyi3m/alert-comb/app/tasks"
)

type DedupStatsProvider interface {
	Stats() dedup.Stats
}

type DispatchStatsProvider interface {
	Stats() dispatch.Stats
}

type ScoringStatsProvider interface {
	MinScore() int
}

// StoreHealthChecker is implemented by the persistent dedup stores.
type StoreHealthChecker interface {
	Health(ctx context.Context) map[string]interface{}
}

var (
	_ DedupStatsProvider    = (*dedup.Deduplicator)(nil)
	_ DispatchStatsProvider = (*dispatch.Dispatcher)(nil)
	_ ScoringStatsProvider  = (*scoring.Scorer)(nil)
)

type GeneratorInterface interface {
	Run(channel feed.Channel, entries []feed.Entry) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

type Handler struct {
	scheduler  tasks.TaskSchedulerInterface
	dedup      DedupStatsProvider
	dispatcher DispatchStatsProvider
	scorer     ScoringStatsProvider
	store      StoreHealthChecker
	history    *feed.History
	generator  GeneratorInterface
	baseURL    string
	version    string
}
