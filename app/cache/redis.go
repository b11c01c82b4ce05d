package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lysyi3m/alert-comb/app/dedup"
)

const defaultPrefix = "alert-comb"

// Cache keeps dedup records in Redis: a sorted set ordered by first-seen time
// plus a hash holding the encoded records.
type Cache struct {
	client *redis.Client
	prefix string
}

var _ dedup.Store = (*Cache)(nil)

type storedRecord struct {
	Tokens      []string `json:"tokens"`
	URL         string   `json:"url,omitempty"`
	Title       string   `json:"title"`
	Source      string   `json:"source"`
	FirstSeenAt int64    `json:"first_seen_at"`
}

// NewCache connects to the Redis instance described by rawURL (redis://host:port/db)
func NewCache(ctx context.Context, rawURL string) (*Cache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return &Cache{
		client: client,
		prefix: defaultPrefix,
	}, nil
}

func (c *Cache) IndexKey() string {
	return c.keyPrefix() + ":seen"
}

func (c *Cache) RecordsKey() string {
	return c.keyPrefix() + ":seen:records"
}

func (c *Cache) keyPrefix() string {
	if c.prefix == "" {
		return defaultPrefix
	}
	return c.prefix
}

func encodeRecord(record dedup.Record) ([]byte, error) {
	return json.Marshal(storedRecord{
		Tokens:      record.Tokens,
		URL:         record.URL,
		Title:       record.Title,
		Source:      record.Source,
		FirstSeenAt: record.FirstSeenAt.UnixMilli(),
	})
}

func decodeRecord(key string, data []byte) (dedup.Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return dedup.Record{}, err
	}

	return dedup.Record{
		Key:         key,
		Tokens:      stored.Tokens,
		URL:         stored.URL,
		Title:       stored.Title,
		Source:      stored.Source,
		FirstSeenAt: time.UnixMilli(stored.FirstSeenAt).UTC(),
	}, nil
}

func (c *Cache) Save(ctx context.Context, record dedup.Record) error {
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", record.Key, err)
	}

	pipe := c.client.TxPipeline()
	pipe.ZAddNX(ctx, c.IndexKey(), redis.Z{
		Score:  float64(record.FirstSeenAt.UnixMilli()),
		Member: record.Key,
	})
	pipe.HSetNX(ctx, c.RecordsKey(), record.Key, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.Key, err)
	}
	return nil
}

func (c *Cache) LoadSince(ctx context.Context, since time.Time) ([]dedup.Record, error) {
	keys, err := c.client.ZRangeByScore(ctx, c.IndexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range seen index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.client.HMGet(ctx, c.RecordsKey(), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read seen records: %w", err)
	}

	records := make([]dedup.Record, 0, len(keys))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}

		record, err := decodeRecord(keys[i], []byte(data))
		if err != nil {
			// invalid entry, treat as a miss
			slog.Warn("Dropping undecodable dedup record", "key", keys[i], "error", err)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func (c *Cache) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)

	keys, err := c.client.ZRangeByScore(ctx, c.IndexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to range expired records: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := c.client.TxPipeline()
	removed := pipe.ZRemRangeByScore(ctx, c.IndexKey(), "-inf", upper)
	pipe.HDel(ctx, c.RecordsKey(), keys...)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	return removed.Val(), nil
}

// Health returns cache health information
func (c *Cache) Health(ctx context.Context) map[string]interface{} {
	health := map[string]interface{}{
		"status": "healthy",
		"type":   "redis",
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	count, err := c.client.ZCard(ctx, c.IndexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		health["error"] = err.Error()
		return health
	}
	health["record_count"] = count

	return health
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
