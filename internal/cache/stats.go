// Package cache keeps per-user face statistics in Redis so the reporting
// endpoint does not aggregate the region table on every request.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/models"
)

// StatsCache stores models.FaceCounts per user with a TTL. Each user has a
// generation counter that Invalidate bumps; an entry written for an older
// generation is treated as a miss.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache connects to Redis and verifies the connection.
func NewStatsCache(ctx context.Context, cfg config.RedisConfig) (*StatsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &StatsCache{client: client, ttl: cfg.StatsTTL}, nil
}

func (c *StatsCache) Close() error {
	return c.client.Close()
}

func statsKey(userID int64) string {
	return fmt.Sprintf("stats:user:%d", userID)
}

func generationKey(userID int64) string {
	return fmt.Sprintf("stats:gen:%d", userID)
}

type entry struct {
	Generation int64             `json:"generation"`
	Counts     models.FaceCounts `json:"counts"`
}

// Get returns the cached counts, or nil on a miss, and the user's current
// generation. Pass the generation to Set after recomputing on a miss.
func (c *StatsCache) Get(ctx context.Context, userID int64) (*models.FaceCounts, int64, error) {
	vals, err := c.client.MGet(ctx, generationKey(userID), statsKey(userID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("get cached stats: %w", err)
	}

	gen, err := parseGeneration(vals[0])
	if err != nil {
		return nil, 0, err
	}

	raw, ok := vals[1].(string)
	if !ok {
		return nil, gen, nil
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, 0, fmt.Errorf("decode cached stats: %w", err)
	}
	if e.Generation != gen {
		return nil, gen, nil
	}
	return &e.Counts, gen, nil
}

func parseGeneration(v any) (int64, error) {
	raw, ok := v.(string)
	if !ok {
		return 0, nil
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode stats generation %q: %w", raw, err)
	}
	return gen, nil
}

// Set caches counts computed while the user was at generation.
func (c *StatsCache) Set(ctx context.Context, userID, generation int64, counts *models.FaceCounts) error {
	data, err := json.Marshal(entry{Generation: generation, Counts: *counts})
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := c.client.Set(ctx, statsKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	return nil
}

// Invalidate bumps the user's generation and drops the cached counts.
func (c *StatsCache) Invalidate(ctx context.Context, userID int64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Del(ctx, statsKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate stats: %w", err)
	}
	return nil
}
