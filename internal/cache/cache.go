package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ProgressTTL bounds how long a progress snapshot outlives its last
// write. Terminal snapshots also expire on this clock so the store
// takes back over once polling stops.
const ProgressTTL = 30 * time.Minute

// ProgressSnapshot is the cached view served by the fast poll path. It
// mirrors the persisted job row; the store remains the source of truth.
type ProgressSnapshot struct {
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
}

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	Close() error
	SetJobProgress(ctx context.Context, jobID uuid.UUID, snap ProgressSnapshot, ttl time.Duration) error
	GetJobProgress(ctx context.Context, jobID uuid.UUID) (ProgressSnapshot, bool, error)
	DeleteJobProgress(ctx context.Context, jobID uuid.UUID) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetJobProgress(ctx context.Context, jobID uuid.UUID, snap ProgressSnapshot, ttl time.Duration) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, JobProgressKey(jobID), b, ttl).Err()
}

func (c *RedisCache) GetJobProgress(ctx context.Context, jobID uuid.UUID) (ProgressSnapshot, bool, error) {
	val, err := c.client.Get(ctx, JobProgressKey(jobID)).Bytes()
	if err == redis.Nil {
		return ProgressSnapshot{}, false, nil
	}
	if err != nil {
		return ProgressSnapshot{}, false, err
	}
	var snap ProgressSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return ProgressSnapshot{}, false, err
	}
	return snap, true, nil
}

func (c *RedisCache) DeleteJobProgress(ctx context.Context, jobID uuid.UUID) error {
	return c.client.Del(ctx, JobProgressKey(jobID)).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
