package chat

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"shardchat/configs"
)

// Cache is a thin wrapper over Redis for ephemeral chat-side state. A nil
// Cache is valid and drops every call, so the server runs fine without a
// Redis instance configured.
type Cache struct {
	rdb *redis.Client
}

// NewCache connects to addr; an empty addr disables caching.
func NewCache(addr string) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		configs.Warn(false, "cache set failed: "+err.Error())
	}
}

// Get returns the cached value, or ok=false on a miss or a down cache.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		configs.Warn(false, "cache get failed: "+err.Error())
		return "", false
	}
	return val, true
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	_ = c.rdb.Close()
}
