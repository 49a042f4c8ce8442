package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Cache {
	out := map[string]Cache{}
	for _, typ := range []string{"memory", "lru"} {
		c, err := NewCache(Config{Type: typ, Local: LocalConfig{MaxSize: 2, DefaultExpiration: time.Minute}})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		out[typ] = c
	}
	return out
}

func TestSetGetAdd(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
			v, ok := c.Get(ctx, "k")
			require.True(t, ok)
			assert.Equal(t, []byte("v"), v)

			added, err := c.Add(ctx, "k", []byte("other"), 0)
			require.NoError(t, err)
			assert.False(t, added)

			added, err = c.Add(ctx, "fresh", []byte("x"), 0)
			require.NoError(t, err)
			assert.True(t, added)

			require.NoError(t, c.Delete(ctx, "k"))
			_, ok = c.Get(ctx, "k")
			assert.False(t, ok)
		})
	}
}

func TestPerItemExpiration(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
			assert.Eventually(t, func() bool {
				_, ok := c.Get(ctx, "short")
				return !ok
			}, time.Second, 5*time.Millisecond)

			added, err := c.Add(ctx, "short", []byte("again"), 0)
			require.NoError(t, err)
			assert.True(t, added)
		})
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(LocalConfig{MaxSize: 2, DefaultExpiration: time.Minute})
	defer c.Close()

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	_ = c.Set(ctx, "c", []byte("3"), 0)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestUnsupportedType(t *testing.T) {
	_, err := NewCache(Config{Type: "memcached"})
	assert.Error(t, err)
}
