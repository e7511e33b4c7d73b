package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix  = "ha:state:"
	defaultCacheTTL = 30 * time.Second
)

// StateCache holds TTL-bounded entity snapshots. The synchronizer is
// the only writer; readers get per-key atomic snapshots.
type StateCache interface {
	// Get returns the cached entity and whether it was present and
	// fresh. A miss is (nil, false, nil); errors are backend failures.
	Get(ctx context.Context, entityID string) (*Entity, bool, error)
	Put(ctx context.Context, entity *Entity) error
	Invalidate(ctx context.Context, entityID string) error
	Backend() string
}

// NewStateCache returns a Redis-backed cache when the server answers a
// ping, and falls back to the in-process cache otherwise so the tool
// server keeps running without Redis.
func NewStateCache(ctx context.Context, client *redis.Client, ttl time.Duration, logger *slog.Logger) StateCache {
	if logger == nil {
		logger = slog.Default()
	}
	if client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err == nil {
			return NewRedisStateCache(client, ttl)
		} else {
			logger.Warn("redis unreachable; using in-process state cache", "error", err)
		}
	}
	return NewMemoryStateCache(ttl)
}

func cacheKey(entityID string) string {
	return cacheKeyPrefix + entityID
}

// RedisStateCache stores entity snapshots under ha:state:{entity_id}
// with the configured TTL.
type RedisStateCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateCache(client *redis.Client, ttl time.Duration) *RedisStateCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisStateCache{client: client, ttl: ttl}
}

func (c *RedisStateCache) Get(ctx context.Context, entityID string) (*Entity, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("homeassistant: cache get %s: %w", entityID, err)
	}
	var ent Entity
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, false, fmt.Errorf("homeassistant: decode cached state %s: %w", entityID, err)
	}
	return &ent, true, nil
}

func (c *RedisStateCache) Put(ctx context.Context, entity *Entity) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("homeassistant: encode state %s: %w", entity.EntityID, err)
	}
	if err := c.client.Set(ctx, cacheKey(entity.EntityID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("homeassistant: cache put %s: %w", entity.EntityID, err)
	}
	return nil
}

func (c *RedisStateCache) Invalidate(ctx context.Context, entityID string) error {
	if err := c.client.Del(ctx, cacheKey(entityID)).Err(); err != nil {
		return fmt.Errorf("homeassistant: cache invalidate %s: %w", entityID, err)
	}
	return nil
}

func (c *RedisStateCache) Backend() string { return "redis" }

// MemoryStateCache is the degraded mode used when Redis is down. Same
// TTL semantics, scoped to the process.
type MemoryStateCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	entity  Entity
	expires time.Time
}

func NewMemoryStateCache(ttl time.Duration) *MemoryStateCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &MemoryStateCache{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]memoryEntry{},
	}
}

func (c *MemoryStateCache) Get(_ context.Context, entityID string) (*Entity, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[entityID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, entityID)
		c.mu.Unlock()
		return nil, false, nil
	}
	ent := entry.entity
	return &ent, true, nil
}

func (c *MemoryStateCache) Put(_ context.Context, entity *Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entity.EntityID] = memoryEntry{entity: *entity, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryStateCache) Invalidate(_ context.Context, entityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entityID)
	return nil
}

func (c *MemoryStateCache) Backend() string { return "memory" }
