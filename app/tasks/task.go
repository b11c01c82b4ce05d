package tasks

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/sources"
)

type TaskType string

const (
	TaskTypePollSource TaskType = "poll_source"
)

type TaskState string

const (
	TaskStateIdle    TaskState = "idle"
	TaskStatePolling TaskState = "polling"
	TaskStateBackoff TaskState = "backoff"
	TaskStateMissing TaskState = "missing"
)

type Task struct {
	ID         string
	Type       TaskType
	SourceName string
	StartedAt  *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetSourceName() string {
	return t.SourceName
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, sourceName string) Task {
	uniqueID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Intn(10000))

	return Task{
		ID:         uniqueID,
		Type:       taskType,
		SourceName: sourceName,
	}
}

// PollSourceTask is the scheduler's handle on one adapter. It is driven by a
// single goroutine; the mutex only guards reads from the status API.
type PollSourceTask struct {
	Task
	adapter  sources.Adapter
	interval time.Duration
	timeout  time.Duration

	mu                  sync.Mutex
	state               TaskState
	consecutiveFailures int
	lastRunAt           *time.Time
	lastSuccessAt       *time.Time
	nextRunAt           *time.Time
	lastError           string
	counters            Counters
}

// Counters are cumulative per-task pipeline totals.
type Counters struct {
	Fetches          int64 `json:"fetches"`
	FetchFailures    int64 `json:"fetch_failures"`
	Items            int64 `json:"items"`
	Dispatched       int64 `json:"dispatched"`
	Duplicates       int64 `json:"duplicates"`
	BelowThreshold   int64 `json:"below_threshold"`
	ItemErrors       int64 `json:"item_errors"`
	DispatchFailures int64 `json:"dispatch_failures"`
}

func (c *Counters) add(o Counters) {
	c.Fetches += o.Fetches
	c.FetchFailures += o.FetchFailures
	c.Items += o.Items
	c.Dispatched += o.Dispatched
	c.Duplicates += o.Duplicates
	c.BelowThreshold += o.BelowThreshold
	c.ItemErrors += o.ItemErrors
	c.DispatchFailures += o.DispatchFailures
}

type TaskSnapshot struct {
	ID                  string     `json:"id,omitempty"`
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	State               TaskState  `json:"state"`
	Interval            string     `json:"interval,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Counters            Counters   `json:"counters"`
}

func NewPollSourceTask(adapter sources.Adapter, interval, timeout time.Duration) *PollSourceTask {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &PollSourceTask{
		Task:     NewTask(TaskTypePollSource, adapter.Name()),
		adapter:  adapter,
		interval: interval,
		timeout:  timeout,
		state:    TaskStateIdle,
	}
}

func (t *PollSourceTask) Interval() time.Duration {
	return t.interval
}

// poll calls the adapter under the per-fetch timeout. A panicking adapter is
// reported as a fetch failure.
func (t *PollSourceTask) poll(ctx context.Context) (items []alert.Item, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = &alert.FetchError{Source: t.SourceName, Err: fmt.Errorf("adapter panic: %v", r)}
		}
	}()

	items, err = t.adapter.Poll(fetchCtx)
	if err != nil {
		var fetchErr *alert.FetchError
		if !errors.As(err, &fetchErr) {
			err = &alert.FetchError{Source: t.SourceName, Err: err}
		}
	}
	return items, err
}

func (t *PollSourceTask) begin(now time.Time) {
	t.Start()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TaskStatePolling
	t.lastRunAt = &now
	t.counters.Fetches++
}

// fail records a fetch failure and returns the new consecutive failure count.
func (t *PollSourceTask) fail(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++
	t.counters.FetchFailures++
	t.lastError = err.Error()
	t.state = TaskStateBackoff
	return t.consecutiveFailures
}

func (t *PollSourceTask) succeed(now time.Time, result BatchResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures = 0
	t.lastError = ""
	t.lastSuccessAt = &now
	t.state = TaskStateIdle
	t.counters.add(result.counters())
}

func (t *PollSourceTask) schedule(next time.Time) {
	t.mu.Lock()
	t.nextRunAt = &next
	t.mu.Unlock()
}

func (t *PollSourceTask) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TaskSnapshot{
		ID:                  t.GetID(),
		Name:                t.GetSourceName(),
		Kind:                t.adapter.Kind(),
		State:               t.state,
		Interval:            t.Interval().String(),
		ConsecutiveFailures: t.consecutiveFailures,
		LastRunAt:           t.lastRunAt,
		LastSuccessAt:       t.lastSuccessAt,
		NextRunAt:           t.nextRunAt,
		LastError:           t.lastError,
		Counters:            t.counters,
	}
}
