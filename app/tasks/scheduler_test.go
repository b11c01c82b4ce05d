package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
	"github.com/lysyi3m/alert-comb/app/dedup"
	"github.com/lysyi3m/alert-comb/app/dispatch"
	"github.com/lysyi3m/alert-comb/app/scoring"
	"github.com/lysyi3m/alert-comb/app/sources"
)

// MockAdapter implements sources.Adapter with a pluggable poll function
type MockAdapter struct {
	name  string
	polls atomic.Int32
	poll  func(ctx context.Context, n int) ([]alert.Item, error)
}

var _ sources.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) Kind() string { return "mock" }

func (m *MockAdapter) Poll(ctx context.Context) ([]alert.Item, error) {
	n := int(m.polls.Add(1))
	if m.poll == nil {
		return nil, nil
	}
	return m.poll(ctx, n)
}

// MockDispatcher records dispatched items
type MockDispatcher struct {
	mu   sync.Mutex
	sent []alert.ScoredItem
	fail bool
}

func (m *MockDispatcher) Dispatch(ctx context.Context, item alert.ScoredItem) dispatch.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return dispatch.Result{Err: &alert.DispatchError{Target: "default", Attempts: 3, Err: errors.New("down")}}
	}
	m.sent = append(m.sent, item)
	return dispatch.Result{Sent: true, Attempts: 1}
}

func (m *MockDispatcher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// MockProcessor counts processed batches
type MockProcessor struct {
	batches atomic.Int32
}

func (m *MockProcessor) Process(ctx context.Context, source string, items []alert.Item) BatchResult {
	m.batches.Add(1)
	return BatchResult{Items: len(items)}
}

func testGroups() []config.KeywordGroup {
	return []config.KeywordGroup{
		{Name: "security", Language: "en", Category: "critical", Polarity: "boost", Weight: 50, Words: []string{"exploit", "hacked", "drained"}},
		{Name: "noise", Language: "en", Category: "noise", Polarity: "penalty", Weight: 30, Words: []string{"ETF", "price prediction"}},
	}
}

func newTestPipeline(t *testing.T, dispatcher Dispatcher) *Pipeline {
	t.Helper()

	scorer, err := scoring.NewScorer(testGroups(), 20, "uncategorized")
	if err != nil {
		t.Fatalf("Failed to create scorer: %v", err)
	}

	return NewPipeline(scorer, dedup.New(dedup.Options{Window: time.Hour, Threshold: 0.8}, nil), dispatcher)
}

func TestNewScheduler(t *testing.T) {
	adapter := &MockAdapter{name: "rss-a"}
	task := NewPollSourceTask(adapter, 0, 0)

	scheduler := NewScheduler([]*PollSourceTask{task}, &MockProcessor{}, Options{})

	if scheduler == nil {
		t.Fatal("Expected scheduler to be created")
	}
	if scheduler.opts.BackoffBase != 5*time.Second {
		t.Errorf("Expected backoff base 5s, got %v", scheduler.opts.BackoffBase)
	}
	if scheduler.opts.BackoffMax != 10*time.Minute {
		t.Errorf("Expected backoff max 10m, got %v", scheduler.opts.BackoffMax)
	}
	if task.Interval() != time.Minute {
		t.Errorf("Expected default interval 1m, got %v", task.Interval())
	}
	if task.GetType() != TaskTypePollSource || task.GetSourceName() != "rss-a" {
		t.Errorf("Unexpected task identity: %s/%s", task.GetType(), task.GetSourceName())
	}

	snapshot := task.Snapshot()
	if snapshot.ID == "" || snapshot.ID != task.GetID() {
		t.Errorf("Expected snapshot to carry task id %q, got %q", task.GetID(), snapshot.ID)
	}
	if snapshot.Interval != "1m0s" {
		t.Errorf("Expected snapshot interval 1m0s, got %s", snapshot.Interval)
	}
}

func TestBackoff(t *testing.T) {
	scheduler := NewScheduler(nil, &MockProcessor{}, Options{})

	tests := []struct {
		failures int
		expected time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{7, 320 * time.Second},
		{8, 10 * time.Minute},
		{100, 10 * time.Minute},
	}

	for _, tt := range tests {
		if got := scheduler.backoff(tt.failures); got != tt.expected {
			t.Errorf("backoff(%d) = %v, expected %v", tt.failures, got, tt.expected)
		}
	}
}

func TestRunOnceFailureThenRecovery(t *testing.T) {
	adapter := &MockAdapter{
		name: "flaky",
		poll: func(ctx context.Context, n int) ([]alert.Item, error) {
			if n <= 2 {
				return nil, errors.New("connection reset")
			}
			return []alert.Item{{Title: "ok"}}, nil
		},
	}
	task := NewPollSourceTask(adapter, time.Minute, time.Second)
	scheduler := NewScheduler([]*PollSourceTask{task}, &MockProcessor{}, Options{})

	if delay := scheduler.runOnce(task); delay != 5*time.Second {
		t.Errorf("Expected first backoff 5s, got %v", delay)
	}

	snapshot := task.Snapshot()
	if snapshot.State != TaskStateBackoff || snapshot.ConsecutiveFailures != 1 {
		t.Errorf("Expected backoff state with 1 failure, got %s/%d", snapshot.State, snapshot.ConsecutiveFailures)
	}

	if delay := scheduler.runOnce(task); delay != 10*time.Second {
		t.Errorf("Expected second backoff 10s, got %v", delay)
	}

	if delay := scheduler.runOnce(task); delay != time.Minute {
		t.Errorf("Expected normal interval after recovery, got %v", delay)
	}

	snapshot = task.Snapshot()
	if snapshot.State != TaskStateIdle || snapshot.ConsecutiveFailures != 0 {
		t.Errorf("Expected idle state with reset counter, got %s/%d", snapshot.State, snapshot.ConsecutiveFailures)
	}
	if snapshot.LastError != "" {
		t.Errorf("Expected last error cleared, got %q", snapshot.LastError)
	}
	if snapshot.Counters.Fetches != 3 || snapshot.Counters.FetchFailures != 2 || snapshot.Counters.Items != 1 {
		t.Errorf("Unexpected counters: %+v", snapshot.Counters)
	}
}

func TestFailingTaskKeepsPolling(t *testing.T) {
	adapter := &MockAdapter{
		name: "down",
		poll: func(ctx context.Context, n int) ([]alert.Item, error) {
			return nil, errors.New("503")
		},
	}
	task := NewPollSourceTask(adapter, time.Hour, time.Second)
	scheduler := NewScheduler([]*PollSourceTask{task}, &MockProcessor{}, Options{
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
	})

	scheduler.Start()
	time.Sleep(200 * time.Millisecond)
	scheduler.Stop(time.Second)

	if adapter.polls.Load() < 4 {
		t.Errorf("Expected failing task to keep retrying, got %d polls", adapter.polls.Load())
	}
}

func TestPollPanicBecomesFetchError(t *testing.T) {
	adapter := &MockAdapter{
		name: "panicky",
		poll: func(ctx context.Context, n int) ([]alert.Item, error) {
			panic("nil map")
		},
	}
	task := NewPollSourceTask(adapter, time.Minute, time.Second)

	_, err := task.poll(context.Background())

	var fetchErr *alert.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %T: %v", err, err)
	}
	if fetchErr.Source != "panicky" {
		t.Errorf("Expected source panicky, got %s", fetchErr.Source)
	}
}

func TestPollTimeout(t *testing.T) {
	adapter := &MockAdapter{
		name: "slow",
		poll: func(ctx context.Context, n int) ([]alert.Item, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	task := NewPollSourceTask(adapter, time.Minute, 20*time.Millisecond)

	started := time.Now()
	_, err := task.poll(context.Background())

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(started) > time.Second {
		t.Errorf("Expected per-fetch timeout to apply, took %v", time.Since(started))
	}
}

func TestSlowTaskDoesNotDelayOthers(t *testing.T) {
	slow := &MockAdapter{
		name: "slow",
		poll: func(ctx context.Context, n int) ([]alert.Item, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	fast := &MockAdapter{name: "fast"}

	scheduler := NewScheduler([]*PollSourceTask{
		NewPollSourceTask(slow, time.Hour, time.Hour),
		NewPollSourceTask(fast, 10*time.Millisecond, time.Second),
	}, &MockProcessor{}, Options{})

	scheduler.Start()
	time.Sleep(150 * time.Millisecond)
	scheduler.Stop(time.Second)

	if fast.polls.Load() < 3 {
		t.Errorf("Expected fast task to keep its cadence, got %d polls", fast.polls.Load())
	}
	if slow.polls.Load() != 1 {
		t.Errorf("Expected slow task to be polled once, got %d", slow.polls.Load())
	}
}

func TestStopIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stubborn := &MockAdapter{
		name: "stubborn",
		poll: func(ctx context.Context, n int) ([]alert.Item, error) {
			<-release
			return nil, nil
		},
	}

	scheduler := NewScheduler([]*PollSourceTask{NewPollSourceTask(stubborn, time.Hour, time.Hour)}, &MockProcessor{}, Options{})
	scheduler.Start()
	time.Sleep(20 * time.Millisecond)

	started := time.Now()
	if scheduler.Stop(50 * time.Millisecond) {
		t.Error("Expected Stop to report a timeout")
	}
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Errorf("Expected Stop to return within the grace period, took %v", elapsed)
	}
}

func TestStopNoNewFetches(t *testing.T) {
	adapter := &MockAdapter{name: "fast"}
	scheduler := NewScheduler([]*PollSourceTask{NewPollSourceTask(adapter, 5*time.Millisecond, time.Second)}, &MockProcessor{}, Options{})

	scheduler.Start()
	time.Sleep(30 * time.Millisecond)

	if !scheduler.Stop(time.Second) {
		t.Fatal("Expected clean stop")
	}

	polls := adapter.polls.Load()
	time.Sleep(30 * time.Millisecond)
	if adapter.polls.Load() != polls {
		t.Errorf("Expected no fetches after stop, got %d more", adapter.polls.Load()-polls)
	}
}

func TestMissingAdapterIsSkipped(t *testing.T) {
	registry := sources.NewRegistry(sources.Deps{})
	working := &MockAdapter{name: "working"}
	registry.Register("mock", func(source config.Source, deps sources.Deps) (sources.Adapter, error) {
		return working, nil
	})

	adapters, errs := registry.Build([]config.Source{
		{Name: "relays", Kind: "nostr"},
		{Name: "working", Kind: "mock"},
	})

	var tasks []*PollSourceTask
	for _, adapter := range adapters {
		tasks = append(tasks, NewPollSourceTask(adapter, time.Hour, time.Second))
	}

	processor := &MockProcessor{}
	scheduler := NewScheduler(tasks, processor, Options{})
	scheduler.SkipMissing(errs)

	scheduler.Start()
	time.Sleep(50 * time.Millisecond)
	scheduler.Stop(time.Second)

	if working.polls.Load() != 1 {
		t.Errorf("Expected working adapter to be polled, got %d", working.polls.Load())
	}

	snapshots := scheduler.Snapshots()
	if len(snapshots) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snapshots))
	}
	if snapshots[1].Name != "relays" || snapshots[1].State != TaskStateMissing {
		t.Errorf("Expected missing relays snapshot, got %+v", snapshots[1])
	}
	if scheduler.GetStats().MissingSources != 1 {
		t.Errorf("Expected 1 missing source, got %d", scheduler.GetStats().MissingSources)
	}
}

func TestDuplicateAcrossSourcesDispatchedOnce(t *testing.T) {
	dispatcher := &MockDispatcher{}
	pipeline := newTestPipeline(t, dispatcher)

	newAdapter := func(name, title string) *MockAdapter {
		return &MockAdapter{
			name: name,
			poll: func(ctx context.Context, n int) ([]alert.Item, error) {
				return []alert.Item{{Title: title, SourceName: name}}, nil
			},
		}
	}

	a := NewPollSourceTask(newAdapter("rss-a", "Exchange X hacked, $40M drained"), time.Hour, time.Second)
	b := NewPollSourceTask(newAdapter("nitter-b", "Exchange X hacked; $40M drained!"), time.Hour, time.Second)
	scheduler := NewScheduler([]*PollSourceTask{a, b}, pipeline, Options{})

	var wg sync.WaitGroup
	for _, task := range []*PollSourceTask{a, b} {
		wg.Add(1)
		go func(task *PollSourceTask) {
			defer wg.Done()
			scheduler.runOnce(task)
		}(task)
	}
	wg.Wait()

	if dispatcher.Count() != 1 {
		t.Errorf("Expected exactly 1 dispatch, got %d", dispatcher.Count())
	}

	stats := scheduler.GetStats()
	if stats.Dispatched != 1 || stats.Duplicates != 1 {
		t.Errorf("Expected 1 dispatched and 1 duplicate, got %+v", stats.Counters)
	}
}

func TestHealth(t *testing.T) {
	task := NewPollSourceTask(&MockAdapter{name: "a"}, time.Minute, time.Second)
	scheduler := NewScheduler([]*PollSourceTask{task}, &MockProcessor{}, Options{})

	health := scheduler.Health()
	if health["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", health["status"])
	}

	task.mu.Lock()
	task.counters.Fetches = 10
	task.counters.FetchFailures = 2
	task.mu.Unlock()

	health = scheduler.Health()
	if health["error_rate"] != 0.2 {
		t.Errorf("Expected error rate 0.2, got %v", health["error_rate"])
	}
	if health["status"] != "degraded" {
		t.Errorf("Expected status 'degraded' with 20%% error rate, got %v", health["status"])
	}

	task.mu.Lock()
	task.counters.FetchFailures = 6
	task.mu.Unlock()

	if health := scheduler.Health(); health["status"] != "unhealthy" {
		t.Errorf("Expected status 'unhealthy' with 60%% error rate, got %v", health["status"])
	}
}
