package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig() LocalConfig {
	return LocalConfig{
		MaxSize:           100,
		DefaultExpiration: 5 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	}
}

func TestLocalCaches(t *testing.T) {
	backends := map[string]Cache{
		"gocache": NewGoCache(localConfig()),
		"lru":     NewLRUCache(localConfig()),
		"layered": NewLayeredCache(NewLRUCache(localConfig()), NewGoCache(localConfig())),
	}
	ctx := context.Background()

	for name, c := range backends {
		c := c
		t.Run(name, func(t *testing.T) {
			defer c.Close()

			require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
			got, ok := c.Get(ctx, "k")
			require.True(t, ok)
			assert.Equal(t, "v", got)

			first, err := c.SetIfAbsent(ctx, "idem", "1", time.Minute)
			require.NoError(t, err)
			assert.True(t, first)
			second, err := c.SetIfAbsent(ctx, "idem", "1", time.Minute)
			require.NoError(t, err)
			assert.False(t, second)

			require.NoError(t, c.Delete(ctx, "k"))
			_, ok = c.Get(ctx, "k")
			assert.False(t, ok)

			require.NoError(t, c.Clear(ctx))
			_, ok = c.Get(ctx, "idem")
			assert.False(t, ok)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	type stats struct {
		Total int     `json:"total"`
		Rate  float64 `json:"rate"`
	}
	c := NewGoCache(localConfig())
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, c, "stats", stats{Total: 4, Rate: 50}, time.Minute))

	var out stats
	require.True(t, GetJSON(ctx, c, "stats", &out))
	assert.Equal(t, stats{Total: 4, Rate: 50}, out)

	assert.False(t, GetJSON(ctx, c, "missing", &out))
}

func TestNewCacheRejectsUnknownType(t *testing.T) {
	_, err := NewCache(Config{Type: "memcached"}, nil)
	assert.Error(t, err)

	_, err = NewCache(Config{Type: "redis"}, nil)
	assert.Error(t, err)
}
