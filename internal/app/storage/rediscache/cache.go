// Package rediscache implements the fetch cache on Redis. TTL enforcement is
// native, so the purge hook only reports work when scanning finds leftovers
// from clients that wrote without expiry.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/baldgiev-collab/serpifai/internal/app/storage"
)

const keyPrefix = "fetch_cache:"

// Cache implements storage.CacheStore on a Redis client.
type Cache struct {
	client *redis.Client
}

var _ storage.CacheStore = (*Cache)(nil)

// New wraps an existing Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return New(client), nil
}

func (c *Cache) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *Cache) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return c.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// PurgeExpired removes prefix keys that carry no TTL. Redis expires the rest
// on its own.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	var removed int64
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := c.client.TTL(ctx, key).Result()
		if err != nil {
			return removed, err
		}
		if ttl == -1 {
			if err := c.client.Del(ctx, key).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
