package sources

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
)

const (
	KindRSS    = "rss"
	KindNitter = "nitter"
	KindNostr  = "nostr"
)

// Adapter polls one configured source and returns items published since its
// previous poll. Implementations return *alert.FetchError on failure.
type Adapter interface {
	Name() string
	Kind() string
	Poll(ctx context.Context) ([]alert.Item, error)
}

type Deps struct {
	HTTPClient *http.Client
	UserAgent  string
	Now        func() time.Time

	// ProxyURL routes nitter requests through a proxy unless the source sets its own.
	ProxyURL string
}

type Factory func(source config.Source, deps Deps) (Adapter, error)

type Registry struct {
	deps      Deps
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in rss and nitter adapters.
func NewRegistry(deps Deps) *Registry {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := &Registry{
		deps:      deps,
		factories: make(map[string]Factory),
	}
	r.Register(KindRSS, NewRSSAdapter)
	r.Register(KindNitter, NewNitterAdapter)
	return r
}

func (r *Registry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates adapters for every enabled source. Sources whose kind has no
// registered adapter yield a *alert.MissingAdapterError and are skipped; a
// factory error for one source never prevents the others from being built.
func (r *Registry) Build(sources []config.Source) ([]Adapter, []error) {
	var (
		adapters []Adapter
		errs     []error
	)

	for _, source := range sources {
		if !source.IsEnabled() {
			continue
		}

		factory, ok := r.factories[source.Kind]
		if !ok {
			errs = append(errs, &alert.MissingAdapterError{Source: source.Name, Kind: source.Kind})
			continue
		}

		adapter, err := factory(source, r.deps)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", source.Name, err))
			continue
		}
		adapters = append(adapters, adapter)
	}

	return adapters, errs
}
