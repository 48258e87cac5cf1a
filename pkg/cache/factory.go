package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "resqflow:cache:"

// NewCache 创建缓存实例. client is required for "redis" and "layered".
func NewCache(config Config, client *redis.Client) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "", "gocache":
		return NewGoCache(config.Local), nil
	case "lru":
		return NewLRUCache(config.Local), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("cache type redis needs a redis client")
		}
		return NewRedisCache(client, redisKeyPrefix), nil
	case "layered":
		if client == nil {
			return nil, fmt.Errorf("cache type layered needs a redis client")
		}
		return NewLayeredCache(NewLRUCache(config.Local), NewRedisCache(client, redisKeyPrefix)), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

// NewLayeredCache 创建分层缓存（本地缓存 + 分布式缓存）
func NewLayeredCache(local, distributed Cache) Cache {
	return &layeredCache{local: local, distributed: distributed}
}

// layeredCache reads through local to distributed; writes go to both.
type layeredCache struct {
	local       Cache
	distributed Cache
}

func (lc *layeredCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if value, ok := lc.local.Get(ctx, key); ok {
		return value, true
	}
	if value, ok := lc.distributed.Get(ctx, key); ok {
		_ = lc.local.Set(ctx, key, value, 0)
		return value, true
	}
	return nil, false
}

func (lc *layeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.distributed.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.local.Set(ctx, key, value, expiration)
}

// SetIfAbsent is decided by the distributed layer so replicas agree.
func (lc *layeredCache) SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := lc.distributed.SetIfAbsent(ctx, key, value, expiration)
	if err != nil || !ok {
		return ok, err
	}
	return true, lc.local.Set(ctx, key, value, expiration)
}

func (lc *layeredCache) Delete(ctx context.Context, key string) error {
	if err := lc.local.Delete(ctx, key); err != nil {
		return err
	}
	return lc.distributed.Delete(ctx, key)
}

func (lc *layeredCache) Clear(ctx context.Context) error {
	if err := lc.local.Clear(ctx); err != nil {
		return err
	}
	return lc.distributed.Clear(ctx)
}

func (lc *layeredCache) Close() error {
	if err := lc.local.Close(); err != nil {
		return err
	}
	return lc.distributed.Close()
}
