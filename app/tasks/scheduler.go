package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Options struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Now         func() time.Time
}

type Stats struct {
	Tasks          int        `json:"tasks"`
	MissingSources int        `json:"missing_sources"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	Counters
}

// Scheduler runs one goroutine per PollSourceTask, each on its own timer.
type Scheduler struct {
	tasks     []*PollSourceTask
	missing   []TaskSnapshot
	processor ItemProcessor
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	startedAt *time.Time
}

func NewScheduler(tasks []*PollSourceTask, processor ItemProcessor, opts Options) *Scheduler {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:     tasks,
		processor: processor,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SkipMissing logs each missing-adapter error once and keeps it visible in
// snapshots. Other errors are logged and ignored.
func (s *Scheduler) SkipMissing(errs []error) {
	for _, err := range errs {
		var missing *alert.MissingAdapterError
		if !errors.As(err, &missing) {
			slog.Warn("Source not scheduled", "error", err)
			continue
		}

		slog.Warn("No adapter for source, skipping", "source", missing.Source, "kind", missing.Kind)
		s.missing = append(s.missing, TaskSnapshot{
			Name:      missing.Source,
			Kind:      missing.Kind,
			State:     TaskStateMissing,
			LastError: err.Error(),
		})
	}
}

func (s *Scheduler) Start() {
	now := s.opts.Now()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.run(task)
	}

	slog.Info("Scheduler started", "tasks", len(s.tasks), "missing", len(s.missing))
}

// Stop cancels all tasks and waits up to grace for in-flight work. It reports
// whether every task finished in time.
func (s *Scheduler) Stop(grace time.Duration) bool {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Scheduler stopped")
		return true
	case <-time.After(grace):
		slog.Warn("Scheduler stop timed out, abandoning in-flight tasks", "grace", grace.String())
		return false
	}
}

func (s *Scheduler) run(task *PollSourceTask) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		// shutdown may have raced with the timer
		if s.ctx.Err() != nil {
			return
		}

		delay := s.runOnce(task)
		task.schedule(s.opts.Now().Add(delay))
		timer.Reset(delay)
	}
}

// runOnce performs one fetch and pipeline pass and returns the delay until
// the next one.
func (s *Scheduler) runOnce(task *PollSourceTask) time.Duration {
	task.begin(s.opts.Now())

	items, err := task.poll(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return task.Interval()
		}

		failures := task.fail(err)
		delay := s.backoff(failures)
		slog.Warn("Source fetch failed", "type", string(task.GetType()), "source", task.GetSourceName(), "task_id", task.GetID(), "consecutive_failures", failures, "delay", delay.String(), "error", err)
		return delay
	}

	result := s.processor.Process(s.ctx, task.GetSourceName(), items)
	task.succeed(s.opts.Now(), result)

	slog.Info("Task completed",
		"type", string(task.GetType()),
		"source", task.GetSourceName(),
		"task_id", task.GetID(),
		"duration", task.GetDuration(),
		"total", result.Items,
		"dispatched", result.Dispatched,
		"duplicates", result.Duplicates,
		"below_threshold", result.BelowThreshold,
		"errors", result.Errors+result.DispatchFailures)

	return task.Interval()
}

// backoff grows exponentially with the consecutive failure count.
func (s *Scheduler) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 31 {
		return s.opts.BackoffMax
	}

	delay := s.opts.BackoffBase * time.Duration(1<<uint(failures-1))
	if delay > s.opts.BackoffMax || delay <= 0 {
		delay = s.opts.BackoffMax
	}
	return delay
}

func (s *Scheduler) Snapshots() []TaskSnapshot {
	snapshots := make([]TaskSnapshot, 0, len(s.tasks)+len(s.missing))
	for _, task := range s.tasks {
		snapshots = append(snapshots, task.Snapshot())
	}
	return append(snapshots, s.missing...)
}

func (s *Scheduler) GetStats() Stats {
	stats := Stats{
		Tasks:          len(s.tasks),
		MissingSources: len(s.missing),
	}

	s.mu.Lock()
	stats.StartedAt = s.startedAt
	s.mu.Unlock()

	for _, task := range s.tasks {
		snapshot := task.Snapshot()
		stats.Counters.add(snapshot.Counters)
	}

	return stats
}

// Health derives a status from the fetch failure ratio.
func (s *Scheduler) Health() map[string]interface{} {
	stats := s.GetStats()

	var errorRate float64
	if stats.Fetches > 0 {
		errorRate = float64(stats.FetchFailures) / float64(stats.Fetches)
	}

	status := "healthy"
	if errorRate >= 0.5 {
		status = "unhealthy"
	} else if errorRate >= 0.1 {
		status = "degraded"
	}

	return map[string]interface{}{
		"status":          status,
		"tasks":           stats.Tasks,
		"missing_sources": stats.MissingSources,
		"total_fetches":   stats.Fetches,
		"total_errors":    stats.FetchFailures,
		"error_rate":      errorRate,
	}
}
