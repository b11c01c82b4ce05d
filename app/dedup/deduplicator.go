package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/alert-comb/app/alert"
)

// Record is an accepted fingerprint. Stores receive copies and never share
// state with the deduplicator.
type Record struct {
	Key         string
	Tokens      []string
	URL         string
	Title       string
	Source      string
	FirstSeenAt time.Time
}

func (r Record) fingerprint() Fingerprint {
	return Fingerprint{Tokens: r.Tokens, URL: r.URL}
}

// Store persists live records so a restart inside the window keeps suppressing.
type Store interface {
	Save(ctx context.Context, record Record) error
	LoadSince(ctx context.Context, since time.Time) ([]Record, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

type Options struct {
	Window        time.Duration
	Threshold     float64
	SweepInterval time.Duration
	StoreTimeout  time.Duration
	Now           func() time.Time
}

type Stats struct {
	Live       int   `json:"live_records"`
	Accepted   int64 `json:"accepted"`
	Suppressed int64 `json:"suppressed"`
	Evicted    int64 `json:"evicted"`
}

// Deduplicator suppresses near-duplicate items within a trailing window.
// Check-and-record is serialized by a single mutex.
type Deduplicator struct {
	opts  Options
	store Store

	mu      sync.Mutex
	records []Record // ordered by FirstSeenAt
	stats   Stats

	janitor *cron.Cron
}

// New creates a deduplicator. store may be nil for a purely in-memory set.
func New(opts Options, store Store) *Deduplicator {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.8
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Deduplicator{
		opts:  opts,
		store: store,
	}
}

// IsDuplicate reports whether a live record is similar enough to item.
func (d *Deduplicator) IsDuplicate(item alert.Item) bool {
	fp := NewFingerprint(item)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked(d.opts.Now())
	_, found := d.matchLocked(fp)
	return found
}

// Accept records item unconditionally.
func (d *Deduplicator) Accept(item alert.Item) {
	fp := NewFingerprint(item)

	d.mu.Lock()
	record := d.insertLocked(fp, item, d.opts.Now())
	d.mu.Unlock()

	d.persist(record)
}

// CheckAndAccept atomically checks item against live records and records it
// when it is new. On a duplicate it returns the record that matched.
func (d *Deduplicator) CheckAndAccept(item alert.Item) (bool, *Record) {
	fp := NewFingerprint(item)

	d.mu.Lock()
	now := d.opts.Now()
	d.evictLocked(now)

	if matched, found := d.matchLocked(fp); found {
		d.stats.Suppressed++
		d.mu.Unlock()
		return true, &matched
	}

	record := d.insertLocked(fp, item, now)
	d.mu.Unlock()

	d.persist(record)
	return false, nil
}

func (d *Deduplicator) matchLocked(fp Fingerprint) (Record, bool) {
	for i := len(d.records) - 1; i >= 0; i-- {
		if fp.Similarity(d.records[i].fingerprint()) >= d.opts.Threshold {
			return d.records[i], true
		}
	}
	return Record{}, false
}

func (d *Deduplicator) insertLocked(fp Fingerprint, item alert.Item, now time.Time) Record {
	record := Record{
		Key:         fp.Key(),
		Tokens:      fp.Tokens,
		URL:         fp.URL,
		Title:       item.Title,
		Source:      item.SourceName,
		FirstSeenAt: now,
	}

	// keep the slice ordered even if the clock steps backwards
	idx := sort.Search(len(d.records), func(i int) bool {
		return d.records[i].FirstSeenAt.After(now)
	})
	d.records = append(d.records, Record{})
	copy(d.records[idx+1:], d.records[idx:])
	d.records[idx] = record

	d.stats.Accepted++
	return record
}

// evictLocked drops every record older than the window.
func (d *Deduplicator) evictLocked(now time.Time) int {
	cutoff := now.Add(-d.opts.Window)
	n := sort.Search(len(d.records), func(i int) bool {
		return !d.records[i].FirstSeenAt.Before(cutoff)
	})
	if n == 0 {
		return 0
	}

	remaining := make([]Record, len(d.records)-n)
	copy(remaining, d.records[n:])
	d.records = remaining
	d.stats.Evicted += int64(n)
	return n
}

func (d *Deduplicator) persist(record Record) {
	if d.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.StoreTimeout)
	defer cancel()

	if err := d.store.Save(ctx, record); err != nil {
		slog.Warn("Failed to persist dedup record", "key", record.Key, "source", record.Source, "error", err)
	}
}

// Sweep evicts expired records from memory and from the store.
func (d *Deduplicator) Sweep(ctx context.Context) int {
	d.mu.Lock()
	now := d.opts.Now()
	evicted := d.evictLocked(now)
	live := len(d.records)
	d.mu.Unlock()

	var purged int64
	if d.store != nil {
		var err error
		purged, err = d.store.DeleteBefore(ctx, now.Add(-d.opts.Window))
		if err != nil {
			slog.Warn("Failed to purge expired dedup records", "error", err)
		}
	}

	slog.Debug("Dedup sweep completed", "evicted", evicted, "purged", purged, "live", live)
	return evicted
}

// Load restores live records from the store.
func (d *Deduplicator) Load(ctx context.Context) (int, error) {
	if d.store == nil {
		return 0, nil
	}

	now := d.opts.Now()
	records, err := d.store.LoadSince(ctx, now.Add(-d.opts.Window))
	if err != nil {
		return 0, fmt.Errorf("failed to load dedup records: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].FirstSeenAt.Before(records[j].FirstSeenAt)
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	merged := make([]Record, 0, len(d.records)+len(records))
	merged = append(merged, records...)
	merged = append(merged, d.records...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].FirstSeenAt.Before(merged[j].FirstSeenAt)
	})
	d.records = merged
	d.evictLocked(now)

	return len(records), nil
}

// StartJanitor schedules Sweep every SweepInterval.
func (d *Deduplicator) StartJanitor() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.janitor != nil {
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", d.opts.SweepInterval)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.StoreTimeout)
		defer cancel()
		d.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule dedup sweep: %w", err)
	}

	c.Start()
	d.janitor = c
	return nil
}

// StopJanitor stops the sweep schedule and waits for a running sweep.
func (d *Deduplicator) StopJanitor() {
	d.mu.Lock()
	c := d.janitor
	d.janitor = nil
	d.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	stats.Live = len(d.records)
	return stats
}
