// Package cache is an optional Redis-backed queue-snapshot cache: it
// shields the Queue Repository's counts_by_status read from a
// health-probe storm by caching the last snapshot for a short TTL.
// Purely additive — callers fall back to a direct repository read
// whenever no cache is configured or a read misses, never blocking on
// Redis being unavailable. Grounded on
// internal/clients/redis/sse_bus.go's client construction
// (goredis.NewClient with DialTimeout, ping-validated at startup).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
)

const defaultTTL = 2 * time.Second

// QueueSnapshotCache caches a model.QueueCounts snapshot per flow key.
type QueueSnapshotCache struct {
	client *goredis.Client
	log    *logger.Logger
	ttl    time.Duration
}

// New dials addr and validates connectivity with a 5s-timeout ping, the
// same shape as NewSSEBus(log). Returns an error if addr is
// set but unreachable — callers treat that as "cache disabled" and log a
// warning rather than failing startup, since this feature is purely
// additive.
func New(addr string, log *logger.Logger) (*QueueSnapshotCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", addr, err)
	}

	return &QueueSnapshotCache{
		client: client,
		log:    log.With("component", "cache"),
		ttl:    defaultTTL,
	}, nil
}

func snapshotKey(flowName string) string {
	return "queueworker:snapshot:" + flowName
}

// Get returns the cached snapshot for flowName, if present and unexpired.
func (c *QueueSnapshotCache) Get(ctx context.Context, flowName string) (model.QueueCounts, bool) {
	raw, err := c.client.Get(ctx, snapshotKey(flowName)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Debug("cache get failed", "flow", flowName, "error", err)
		}
		return model.QueueCounts{}, false
	}
	var counts model.QueueCounts
	if err := json.Unmarshal(raw, &counts); err != nil {
		c.log.Warn("cache snapshot unmarshal failed", "flow", flowName, "error", err)
		return model.QueueCounts{}, false
	}
	return counts, true
}

// Set stores counts for flowName with the cache's TTL.
func (c *QueueSnapshotCache) Set(ctx context.Context, flowName string, counts model.QueueCounts) {
	raw, err := json.Marshal(counts)
	if err != nil {
		c.log.Warn("cache snapshot marshal failed", "flow", flowName, "error", err)
		return
	}
	if err := c.client.Set(ctx, snapshotKey(flowName), raw, c.ttl).Err(); err != nil {
		c.log.Debug("cache set failed", "flow", flowName, "error", err)
	}
}

// Close releases the Redis client.
func (c *QueueSnapshotCache) Close() error {
	return c.client.Close()
}
