// Package cache provides store.JobCache implementations backed by Redis,
// plus a no-op cache used when Redis is not configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

const keyPrefix = "imagelab:job:"

// RedisJobCache caches terminal jobs as JSON values in Redis.
type RedisJobCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.JobCache = (*RedisJobCache)(nil)

// NewRedisJobCache wraps client. A zero ttl keeps entries until evicted.
func NewRedisJobCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisJobCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisJobCache{
		client: client,
		ttl:    ttl,
		logger: log.With(slog.String("component", "job_cache")),
	}
}

// Connect opens a client for addr and verifies it with PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// GetJob implements store.JobCache.
func (c *RedisJobCache) GetJob(ctx context.Context, id string) (*domain.Job, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached job %s: %w", id, err)
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		// Drop the corrupt entry so the next read repopulates it.
		logger.FromContextOrDefault(ctx, c.logger).Warn("discarding undecodable cache entry",
			slog.String("job_id", id),
			slog.String("error", err.Error()))
		_ = c.client.Del(ctx, keyPrefix+id).Err()
		return nil, false, nil
	}
	return &job, true, nil
}

// PutJob implements store.JobCache.
func (c *RedisJobCache) PutJob(ctx context.Context, job *domain.Job) error {
	if job == nil || !job.IsTerminal() {
		return nil
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := c.client.Set(ctx, keyPrefix+job.ID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache job %s: %w", job.ID, err)
	}
	return nil
}

// NopJobCache never hits.
type NopJobCache struct{}

var _ store.JobCache = NopJobCache{}

// GetJob implements store.JobCache.
func (NopJobCache) GetJob(context.Context, string) (*domain.Job, bool, error) {
	return nil, false, nil
}

// PutJob implements store.JobCache.
func (NopJobCache) PutJob(context.Context, *domain.Job) error {
	return nil
}
