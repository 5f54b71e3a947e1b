// Package cache implements the optional Redis-backed query-result cache:
// final top-k result sets keyed by the normalized query and k.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/strata-search/strata/internal/query"
	pkgredis "github.com/strata-search/strata/pkg/redis"
)

// ResultCache stores ranked results in Redis.
type ResultCache struct {
	client *pkgredis.Client
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New wraps a Redis client as a result cache.
func New(client *pkgredis.Client) *ResultCache {
	return &ResultCache{
		client: client,
		logger: slog.Default().With("component", "result-cache"),
	}
}

// Get returns the cached results for the query, if present.
func (c *ResultCache) Get(ctx context.Context, q string, k int) ([]query.Result, bool) {
	key := c.buildKey(q, k)
	// Concurrent lookups for the same key share one round trip.
	v, err, _ := c.group.Do(key, func() (any, error) {
		var results []query.Result
		ok, err := c.client.GetJSON(ctx, key, &results)
		if err != nil || !ok {
			return nil, err
		}
		return results, nil
	})
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	results, ok := v.([]query.Result)
	if !ok || results == nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return results, true
}

// Put stores the results under the query key.
func (c *ResultCache) Put(ctx context.Context, q string, k int, results []query.Result) {
	key := c.buildKey(q, k)
	if err := c.client.SetJSON(ctx, key, results); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// HitRate returns the hit and miss counters.
func (c *ResultCache) HitRate() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ResultCache) buildKey(q string, k int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", q, k)))
	return "query:" + hex.EncodeToString(sum[:16])
}
