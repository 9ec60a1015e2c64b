package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL = 24 * time.Hour
	keyPrefix       = "synth:run:"
	latestKey       = "synth:runs:latest"
	latestSize      = 20
)

// ErrCacheMiss is returned when a run is not cached.
var ErrCacheMiss = errors.New("run not cached")

// Cache keeps finished runs in Redis so repeated reads skip SQLite, and a
// short list of the most recently finished run ids.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(id string) string { return keyPrefix + id }

// Put caches a finished run. Runs still in progress are not cached.
func (c *Cache) Put(ctx context.Context, run Run) error {
	if !run.Done() {
		return nil
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, cacheKey(run.ID), raw, c.ttl)
	pipe.LRem(ctx, latestKey, 0, run.ID)
	pipe.LPush(ctx, latestKey, run.ID)
	pipe.LTrim(ctx, latestKey, 0, latestSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache run: %w", err)
	}
	return nil
}

// Get returns a cached run or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, id string) (Run, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Run{}, ErrCacheMiss
		}
		return Run{}, fmt.Errorf("get cached run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return Run{}, fmt.Errorf("decode cached run: %w", err)
	}
	return run, nil
}

// Latest returns the ids of the most recently finished runs, newest first.
func (c *Cache) Latest(ctx context.Context, n int) ([]string, error) {
	if n <= 0 || n > latestSize {
		n = latestSize
	}
	ids, err := c.rdb.LRange(ctx, latestKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("latest runs: %w", err)
	}
	return ids, nil
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
