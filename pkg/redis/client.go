// Package redis provides the Redis-backed object cache used for query
// results: JSON values stored under a fixed key prefix with the configured
// TTL. Serialization and expiry live here so callers only deal in typed
// values.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strata-search/strata/pkg/config"
)

// keyPrefix namespaces every cache entry written by this engine.
const keyPrefix = "strata:"

// Client is a TTL'd JSON object cache over one Redis connection pool.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient connects with the configured pool size and verifies the
// connection with a PING before handing the cache out.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb, ttl: cfg.CacheTTL}, nil
}

// GetJSON looks up key and unmarshals the stored value into dst. The
// second return is false on a clean miss; an error means the lookup or the
// decode failed.
func (c *Client) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// A decode failure means the entry is unusable; drop it so the
		// next fill overwrites it.
		c.rdb.Del(ctx, keyPrefix+key)
		return false, fmt.Errorf("redis entry %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals value and stores it under key with the configured TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value for %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes keys, e.g. after an index swap.
func (c *Client) Invalidate(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	return c.rdb.Del(ctx, prefixed...).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
