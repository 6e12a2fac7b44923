package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steward-ai/steward/pkg/models"
)

// DecisionCache stores routing decisions under their computed key. All
// methods are best-effort: errors are reported so the router can log
// them, but a failing cache never fails a Select call.
type DecisionCache interface {
	Get(ctx context.Context, key string) (*models.RoutingDecision, bool, error)
	Set(ctx context.Context, key string, decision *models.RoutingDecision, ttl time.Duration) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

type memoryCacheEntry struct {
	decision  models.RoutingDecision
	expiresAt time.Time
}

// memoryCache is the default in-process TTL map backend.
type memoryCache struct {
	entries map[string]memoryCacheEntry
	mu      sync.Mutex
	now     func() time.Time
}

// NewMemoryCache creates the in-process decision cache.
func NewMemoryCache() DecisionCache {
	return &memoryCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *memoryCache) Get(_ context.Context, key string) (*models.RoutingDecision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	decision := entry.decision
	return &decision, true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, decision *models.RoutingDecision, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryCacheEntry{
		decision:  *decision,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *memoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryCacheEntry)
	return nil
}

// Len prunes expired entries as a side effect so the reported size
// reflects live decisions only.
func (c *memoryCache) Len(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	return len(c.entries), nil
}

const redisKeyPrefix = "steward:router:decision:"

// redisCache stores decisions as JSON values with Redis-managed TTLs, so
// multiple gateway instances share one decision cache.
type redisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis-backed decision cache.
func NewRedisCache(addr string) DecisionCache {
	return &redisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (c *redisCache) Get(ctx context.Context, key string) (*models.RoutingDecision, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var decision models.RoutingDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		return nil, false, err
	}
	return &decision, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, decision *models.RoutingDecision, ttl time.Duration) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}

func (c *redisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *redisCache) Len(ctx context.Context) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}
