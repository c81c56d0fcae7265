package poi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"travelist/internal/logging"
)

// Cache is the result cache port. Both implementations expose identical
// semantics; the backend is a configuration decision.
type Cache interface {
	Get(ctx context.Context, key string) ([]Item, bool)
	Set(ctx context.Context, key string, items []Item)
}

type memoryCache struct {
	lru *expirable.LRU[string, []Item]
}

// NewMemoryCache returns the single-process LRU+TTL cache.
func NewMemoryCache(capacity int, ttl time.Duration) Cache {
	if capacity < 1 {
		capacity = 1
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return &memoryCache{lru: expirable.NewLRU[string, []Item](capacity, nil, ttl)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]Item, bool) {
	return c.lru.Get(key)
}

func (c *memoryCache) Set(_ context.Context, key string, items []Item) {
	c.lru.Add(key, items)
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	local  Cache // fallback when redis is unreachable
	logger logging.Logger
}

// NewRedisCache returns the shared keyed cache. Redis failures fall back
// to a local LRU so lookups keep working.
func NewRedisCache(client *redis.Client, capacity int, ttl time.Duration, logger logging.Logger) Cache {
	return &redisCache{
		client: client,
		ttl:    ttl,
		local:  NewMemoryCache(capacity, ttl),
		logger: logging.OrNop(logger),
	}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]Item, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var items []Item
		if json.Unmarshal(raw, &items) == nil {
			return items, true
		}
	} else if err != redis.Nil {
		c.logger.Warn("redis poi cache get failed: %v", err)
	}
	return c.local.Get(ctx, key)
}

func (c *redisCache) Set(ctx context.Context, key string, items []Item) {
	c.local.Set(ctx, key, items)
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("redis poi cache set failed: %v", err)
	}
}

type nopCache struct{}

// NewNopCache disables caching (POI_CACHE_ENABLED=false).
func NewNopCache() Cache { return nopCache{} }

func (nopCache) Get(context.Context, string) ([]Item, bool) { return nil, false }
func (nopCache) Set(context.Context, string, []Item)        {}
