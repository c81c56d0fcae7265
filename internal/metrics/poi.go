package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"travelist/internal/logging"
)

// PoiCounters tracks the cache-aside flow of the POI service. The memory
// implementation is per-process; the Redis implementation shares counters
// across processes and degrades to local counting when the connection
// fails.
type PoiCounters interface {
	IncrCacheHit()
	IncrCacheMiss()
	IncrAPICall()
	IncrAPIFailure()
	Snapshot() map[string]int64
}

type memPoiCounters struct {
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	apiCalls    atomic.Int64
	apiFailures atomic.Int64
}

// NewPoiCounters returns the in-process counter set.
func NewPoiCounters() PoiCounters {
	return &memPoiCounters{}
}

func (c *memPoiCounters) IncrCacheHit()   { c.cacheHits.Add(1) }
func (c *memPoiCounters) IncrCacheMiss()  { c.cacheMisses.Add(1) }
func (c *memPoiCounters) IncrAPICall()    { c.apiCalls.Add(1) }
func (c *memPoiCounters) IncrAPIFailure() { c.apiFailures.Add(1) }

func (c *memPoiCounters) Snapshot() map[string]int64 {
	return map[string]int64{
		"cache_hits":   c.cacheHits.Load(),
		"cache_misses": c.cacheMisses.Load(),
		"api_calls":    c.apiCalls.Load(),
		"api_failures": c.apiFailures.Load(),
	}
}

const redisPoiKeyPrefix = "travelist:metrics:poi:"

type redisPoiCounters struct {
	client *redis.Client
	local  PoiCounters // fallback and read merge when redis is down
	logger logging.Logger
}

// NewRedisPoiCounters returns counters shared through Redis. Increment
// failures fall back to the local counter set so no event is lost.
func NewRedisPoiCounters(client *redis.Client, logger logging.Logger) PoiCounters {
	return &redisPoiCounters{
		client: client,
		local:  NewPoiCounters(),
		logger: logging.OrNop(logger),
	}
}

func (c *redisPoiCounters) incr(field string, localIncr func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.client.Incr(ctx, redisPoiKeyPrefix+field).Err(); err != nil {
		c.logger.Warn("redis poi counter %s unavailable: %v", field, err)
		localIncr()
	}
}

func (c *redisPoiCounters) IncrCacheHit()   { c.incr("cache_hits", c.local.IncrCacheHit) }
func (c *redisPoiCounters) IncrCacheMiss()  { c.incr("cache_misses", c.local.IncrCacheMiss) }
func (c *redisPoiCounters) IncrAPICall()    { c.incr("api_calls", c.local.IncrAPICall) }
func (c *redisPoiCounters) IncrAPIFailure() { c.incr("api_failures", c.local.IncrAPIFailure) }

func (c *redisPoiCounters) Snapshot() map[string]int64 {
	out := c.local.Snapshot()
	fields := []string{"cache_hits", "cache_misses", "api_calls", "api_failures"}
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = redisPoiKeyPrefix + f
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("redis poi counter snapshot unavailable: %v", err)
		return out
	}
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			var n int64
			for _, ch := range t {
				if ch < '0' || ch > '9' {
					n = 0
					break
				}
				n = n*10 + int64(ch-'0')
			}
			out[fields[i]] += n
		case int64:
			out[fields[i]] += t
		}
	}
	return out
}
