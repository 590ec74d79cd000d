// README: Cached client state stores (Redis JSON blob with TTL, in-memory for tests).
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

// Cache holds the last resolved state per participant and role. A missing
// entry is (nil, nil).
type Cache interface {
	Load(ctx context.Context, participantID types.ID, role intent.Role) (*CacheEntry, error)
	Save(ctx context.Context, participantID types.ID, role intent.Role, e *CacheEntry) error
	Clear(ctx context.Context, participantID types.ID, role intent.Role) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(participantID types.ID, role intent.Role) string {
	return fmt.Sprintf("recovery:%s:%s", role, participantID)
}

func (c *RedisCache) Load(ctx context.Context, participantID types.ID, role intent.Role) (*CacheEntry, error) {
	raw, err := c.client.Get(ctx, cacheKey(participantID, role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		// a corrupt blob is treated as absent
		return nil, nil
	}
	return &e, nil
}

func (c *RedisCache) Save(ctx context.Context, participantID types.ID, role intent.Role, e *CacheEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(participantID, role), raw, c.ttl).Err()
}

func (c *RedisCache) Clear(ctx context.Context, participantID types.ID, role intent.Role) error {
	return c.client.Del(ctx, cacheKey(participantID, role)).Err()
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CacheEntry)}
}

func (c *MemoryCache) Load(_ context.Context, participantID types.ID, role intent.Role) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(participantID, role)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *MemoryCache) Save(_ context.Context, participantID types.ID, role intent.Role, e *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(participantID, role)] = *e
	return nil
}

func (c *MemoryCache) Clear(_ context.Context, participantID types.ID, role intent.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(participantID, role))
	return nil
}
