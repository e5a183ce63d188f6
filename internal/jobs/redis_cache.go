package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyCache backs IdempotencyCache with plain Redis SET keys
// carrying a TTL (a later Set for the same key overwrites the earlier one),
// grounded on the teacher's RedisGenerationCache.
type RedisIdempotencyCache struct {
	client redis.UniversalClient
}

// NewRedisIdempotencyCache dials Redis and pings it; url may be empty, in
// which case the Job Manager falls back to the Store's own lookup.
func NewRedisIdempotencyCache(ctx context.Context, url string) (*RedisIdempotencyCache, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisIdempotencyCache{client: client}, nil
}

func (c *RedisIdempotencyCache) key(userID, idempotencyKey string) string {
	return "cortex:idem:" + userID + ":" + idempotencyKey
}

func (c *RedisIdempotencyCache) Get(ctx context.Context, userID, key string) (uuid.UUID, bool, error) {
	val, err := c.client.Get(ctx, c.key(userID, key)).Result()
	if err == redis.Nil {
		return uuid.UUID{}, false, nil
	}
	if err != nil {
		return uuid.UUID{}, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.UUID{}, false, err
	}
	return id, true, nil
}

func (c *RedisIdempotencyCache) Set(ctx context.Context, userID, key string, jobID uuid.UUID, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(userID, key), jobID.String(), ttl).Err()
}

// Close releases the underlying connection pool.
func (c *RedisIdempotencyCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
