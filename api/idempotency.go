package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers Idempotency-Key values per owner so a replayed
// create is rejected by every instance sharing the Redis.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Add claims key for ownerID. It reports false when the key was already held.
func (r *RedisDeduper) Add(ctx context.Context, ownerID, key string) (bool, error) {
	return r.client.SetNX(ctx, dedupeKey(ownerID, key), 1, r.ttl).Result()
}

// Remove releases key so the request can be retried after a failure.
func (r *RedisDeduper) Remove(ctx context.Context, ownerID, key string) error {
	return r.client.Del(ctx, dedupeKey(ownerID, key)).Err()
}

func dedupeKey(ownerID, key string) string {
	return "idem:" + ownerID + ":" + key
}
