// Package feed keeps a short history of delivered alerts and renders it as
// an RSS 2.0 channel.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/lysyi3m/alert-comb/app/alert"
	"github.com/lysyi3m/alert-comb/app/dispatch"
)

const DefaultHistorySize = 100

type Entry struct {
	Item         alert.ScoredItem
	Priority     int
	Transport    string
	Target       string
	DispatchedAt time.Time
}

// History is a fixed-size ring of the most recently delivered alerts.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

func (h *History) Add(entry Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = entry
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	if h.full {
		n = len(h.entries)
	}
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}

type Dispatcher interface {
	Dispatch(ctx context.Context, item alert.ScoredItem) dispatch.Result
}

// RecordingDispatcher adds every successfully delivered item to a History.
type RecordingDispatcher struct {
	inner   Dispatcher
	history *History
	now     func() time.Time
}

func NewRecordingDispatcher(inner Dispatcher, history *History) *RecordingDispatcher {
	return &RecordingDispatcher{inner: inner, history: history, now: time.Now}
}

func (r *RecordingDispatcher) Dispatch(ctx context.Context, item alert.ScoredItem) dispatch.Result {
	result := r.inner.Dispatch(ctx, item)
	if result.Sent {
		r.history.Add(Entry{
			Item:         item,
			Priority:     result.Priority,
			Transport:    result.Transport,
			Target:       result.Target,
			DispatchedAt: r.now().UTC(),
		})
	}
	return result
}
