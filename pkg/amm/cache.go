package amm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheKey is where the liquidity snapshot is stored
const DefaultCacheKey = "venue-swap:liquidity:snapshot"

// RedisCache keeps the last good snapshot in redis
type RedisCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisCache stores snapshots under key for ttl; zero ttl keeps them forever
func NewRedisCache(rdb *redis.Client, key string, ttl time.Duration) *RedisCache {
	if key == "" {
		key = DefaultCacheKey
	}
	return &RedisCache{rdb: rdb, key: key, ttl: ttl}
}

// Load returns nil without an error when nothing is cached
func (c *RedisCache) Load(ctx context.Context) (*Snapshot, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (c *RedisCache) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.rdb.Set(ctx, c.key, data, c.ttl).Err()
}
