package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lysyi3m/alert-comb/app/dedup"
)

const seenTable = "seen_items"

// SeenRepository persists dedup records in sqlite or postgres
type SeenRepository struct {
	db *DB
}

var _ dedup.Store = (*SeenRepository)(nil)

func NewSeenRepository(db *DB) *SeenRepository {
	return &SeenRepository{db: db}
}

func (r *SeenRepository) Save(ctx context.Context, record dedup.Record) error {
	_, err := r.db.Builder.
		Insert(seenTable).
		Columns("key", "tokens", "url", "title", "source", "first_seen_at").
		Values(
			record.Key,
			strings.Join(record.Tokens, " "),
			record.URL,
			record.Title,
			record.Source,
			record.FirstSeenAt.UnixMilli(),
		).
		Suffix("ON CONFLICT (key) DO NOTHING").
		RunWith(r.db.DB).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to save seen item: %w", err)
	}

	return nil
}

func (r *SeenRepository) LoadSince(ctx context.Context, since time.Time) ([]dedup.Record, error) {
	rows, err := r.db.Builder.
		Select("key", "tokens", "url", "title", "source", "first_seen_at").
		From(seenTable).
		Where(sq.GtOrEq{"first_seen_at": since.UnixMilli()}).
		OrderBy("first_seen_at ASC").
		RunWith(r.db.DB).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen items: %w", err)
	}
	defer rows.Close()

	var records []dedup.Record
	for rows.Next() {
		var (
			record      dedup.Record
			tokens      string
			firstSeenAt int64
		)
		if err := rows.Scan(&record.Key, &tokens, &record.URL, &record.Title, &record.Source, &firstSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan seen item: %w", err)
		}
		record.Tokens = strings.Fields(tokens)
		record.FirstSeenAt = time.UnixMilli(firstSeenAt).UTC()
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seen items: %w", err)
	}

	return records, nil
}

func (r *SeenRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Builder.
		Delete(seenTable).
		Where(sq.Lt{"first_seen_at": cutoff.UnixMilli()}).
		RunWith(r.db.DB).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired seen items: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted seen items: %w", err)
	}

	return deleted, nil
}

func (r *SeenRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.Builder.
		Select("COUNT(*)").
		From(seenTable).
		RunWith(r.db.DB).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count seen items: %w", err)
	}

	return count, nil
}

// Health reports database reachability and the number of persisted records.
func (r *SeenRepository) Health(ctx context.Context) map[string]interface{} {
	health := map[string]interface{}{
		"status": "healthy",
		"type":   r.db.Driver,
	}

	if err := r.db.PingContext(ctx); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	count, err := r.Count(ctx)
	if err != nil {
		health["error"] = err.Error()
		return health
	}
	health["record_count"] = count

	return health
}

func (r *SeenRepository) Close() error {
	return r.db.Close()
}
