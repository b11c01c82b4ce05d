package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/config"
	"github.com/lysyi3m/alert-comb/app/textutil"
)

type Options struct {
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

type Stats struct {
	Sent       int64      `json:"sent"`
	Failed     int64      `json:"failed"`
	Retries    int64      `json:"retries"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

// Dispatcher routes scored items to per-category targets and retries failed
// sends with exponential backoff.
type Dispatcher struct {
	cfg        config.NotifyConfig
	bands      []config.ScoreBand
	transports map[string]Transport
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time

	mu    sync.Mutex
	stats Stats
}

func NewDispatcher(cfg config.NotifyConfig, transports []Transport, opts Options) *Dispatcher {
	bands := make([]config.ScoreBand, len(cfg.ScoreBands))
	copy(bands, cfg.ScoreBands)
	sort.SliceStable(bands, func(i, j int) bool {
		return bands[i].MinScore > bands[j].MinScore
	})

	byName := make(map[string]Transport, len(transports))
	for _, t := range transports {
		byName[t.Name()] = t
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.After == nil {
		opts.After = time.After
	}

	return &Dispatcher{
		cfg:        cfg,
		bands:      bands,
		transports: byName,
		now:        opts.Now,
		after:      opts.After,
	}
}

// PriorityFor maps a score onto a 1..5 tier using the first matching band.
func (d *Dispatcher) PriorityFor(score int) int {
	for _, band := range d.bands {
		if score >= band.MinScore {
			return band.Priority
		}
	}
	return PriorityLow
}

// priority uses the score bands unless the target pins a non-default tier.
func (d *Dispatcher) priority(target config.Target, score int) int {
	if tier, ok := priorityLabels[target.Priority]; ok && target.Priority != "default" {
		return tier
	}
	return d.PriorityFor(score)
}

func (d *Dispatcher) targetName(category string) string {
	if _, ok := d.cfg.Targets[category]; ok {
		return category
	}
	return config.DefaultTargetKey
}

// Format builds the notification for item without sending it.
func (d *Dispatcher) Format(item alert.ScoredItem) (Notification, config.Target) {
	target := d.cfg.Target(string(item.Category))
	formatting := d.cfg.Formatting

	message := item.Body
	if message == "" {
		message = item.Title
	}
	message = textutil.Truncate(message, formatting.MaxBodyLength)
	if formatting.Timestamp() {
		message = fmt.Sprintf("[%s] %s", d.now().UTC().Format("15:04 UTC"), message)
	}

	n := Notification{
		Topic:    target.Topic,
		ChatID:   target.ChatID,
		Title:    textutil.Truncate(item.Title, formatting.MaxTitleLength),
		Message:  message,
		Priority: d.priority(target, item.Score),
		Tags:     target.Tags,
	}
	if formatting.LinkAction() {
		n.URL = item.URL
	}

	return n, target
}

// Dispatch sends item to its category target. A failed dispatch is logged
// and reported in the result; it never panics or blocks past ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, item alert.ScoredItem) Result {
	started := d.now()
	n, target := d.Format(item)

	result := Result{
		Category:  string(item.Category),
		Target:    d.targetName(string(item.Category)),
		Transport: target.Transport,
		Priority:  n.Priority,
	}

	transport, ok := d.transports[target.Transport]
	if !ok {
		result.Err = &alert.DispatchError{
			Target: result.Target,
			Err:    fmt.Errorf("transport %q is not configured", target.Transport),
		}
		d.recordFailure(result)
		return result
	}

	result.Attempts, result.Err = d.sendWithRetry(ctx, transport, n, result.Target)
	result.Duration = d.now().Sub(started)

	if result.Err != nil {
		d.recordFailure(result)
		return result
	}

	result.Sent = true
	d.recordSuccess(result, item)
	return result
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, transport Transport, n Notification, targetName string) (int, error) {
	attempts := d.cfg.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, &alert.DispatchError{Target: targetName, Attempts: attempt - 1, Err: err}
		}

		lastErr = transport.Send(ctx, n)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == attempts || errors.Is(lastErr, context.Canceled) {
			return attempt, &alert.DispatchError{Target: targetName, Attempts: attempt, Err: lastErr}
		}

		delay := d.retryDelay(attempt)
		slog.Warn("Dispatch retry scheduled", "target", targetName, "transport", transport.Name(), "attempt", attempt, "max_attempts", attempts, "delay", delay.String(), "error", lastErr)

		d.mu.Lock()
		d.stats.Retries++
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return attempt, &alert.DispatchError{Target: targetName, Attempts: attempt, Err: ctx.Err()}
		case <-d.after(delay):
		}
	}

	return attempts, &alert.DispatchError{Target: targetName, Attempts: attempts, Err: lastErr}
}

// retryDelay doubles from the base delay and is capped at the max delay.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * d.cfg.Retry.GetBaseDelay()
	if maxDelay := d.cfg.Retry.GetMaxDelay(); delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

func (d *Dispatcher) recordSuccess(result Result, item alert.ScoredItem) {
	now := d.now()

	d.mu.Lock()
	d.stats.Sent++
	d.stats.LastSentAt = &now
	d.mu.Unlock()

	slog.Info("Alert dispatched",
		"category", result.Category,
		"target", result.Target,
		"score", item.Score,
		"priority", result.Priority,
		"attempts", result.Attempts,
		"source", item.SourceName,
		"title", textutil.Truncate(item.Title, 60))
}

func (d *Dispatcher) recordFailure(result Result) {
	d.mu.Lock()
	d.stats.Failed++
	d.mu.Unlock()

	slog.Error("Alert dispatch failed", "category", result.Category, "target", result.Target, "transport", result.Transport, "attempts", result.Attempts, "error", result.Err)
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
