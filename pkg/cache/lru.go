package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// lruCache is a size-bounded local cache. All entries share the configured TTL; the
// per-call expiration is ignored.
type lruCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, interface{}]
}

// NewLRUCache 创建本地LRU缓存
func NewLRUCache(config LocalConfig) Cache {
	size := config.MaxSize
	if size <= 0 {
		size = 1000
	}
	return &lruCache{lru: expirable.NewLRU[string, interface{}](size, nil, config.DefaultExpiration)}
}

func (lc *lruCache) Get(ctx context.Context, key string) (interface{}, bool) {
	return lc.lru.Get(key)
}

func (lc *lruCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.lru.Add(key, value)
	return nil
}

func (lc *lruCache) SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.lru.Contains(key) {
		return false, nil
	}
	lc.lru.Add(key, value)
	return true, nil
}

func (lc *lruCache) Delete(ctx context.Context, key string) error {
	lc.lru.Remove(key)
	return nil
}

func (lc *lruCache) Clear(ctx context.Context) error {
	lc.lru.Purge()
	return nil
}

func (lc *lruCache) Close() error {
	return nil
}
