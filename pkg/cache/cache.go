package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache 缓存接口
type Cache interface {
	// Get returns the stored value. Redis-backed caches return the raw string payload.
	Get(ctx context.Context, key string) (interface{}, bool)

	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// SetIfAbsent stores value only when key is unused; false means the key already exists.
	SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error

	Clear(ctx context.Context) error

	Close() error
}

// Config 缓存配置
type Config struct {
	// gocache | lru | redis | layered (lru in front of redis)
	Type  string      `json:"type" env:"CACHE_TYPE"`
	Redis RedisConfig `json:"redis"`
	Local LocalConfig `json:"local"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string        `json:"addr" env:"REDIS_ADDR"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" env:"REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	MaxSize           int           `json:"max_size" env:"LOCAL_CACHE_MAX_SIZE"`
	DefaultExpiration time.Duration `json:"default_expiration" env:"LOCAL_CACHE_DEFAULT_EXPIRATION"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"LOCAL_CACHE_CLEANUP_INTERVAL"`
}

// SetJSON stores v encoded as JSON so every backend round-trips the same bytes.
func SetJSON(ctx context.Context, c Cache, key string, v interface{}, expiration time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, b, expiration)
}

// GetJSON decodes a value written by SetJSON into out.
func GetJSON(ctx context.Context, c Cache, key string, out interface{}) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	var b []byte
	switch v := raw.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return false
	}
	return json.Unmarshal(b, out) == nil
}
