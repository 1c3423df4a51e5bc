package cache

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/metric"
)

func TestCache_LRUEviction(t *testing.T) {
	var evicted []string
	c, err := New[string](2, WithEvictionCallback(func(k string, _ string) {
		evicted = append(evicted, k)
	}))
	require.NoError(t, err)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	_, ok := c.Get("a")
	require.True(t, ok)
	_, _ = c.Set("c", "3")

	assert.Equal(t, []string{"b"}, evicted)
	assert.ElementsMatch(t, []string{"a", "c"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c, err := New[bool](0, WithTTL[bool](time.Minute), WithClock[bool](clock))
	require.NoError(t, err)

	_, _ = c.Set("sftpSource/a.txt", true)
	_, ok := c.Get("sftpSource/a.txt")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get("sftpSource/a.txt")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestCache_SetIfAbsent(t *testing.T) {
	c, err := New[string](10)
	require.NoError(t, err)

	stored, err := c.SetIfAbsent("k", "first")
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = c.SetIfAbsent("k", "second")
	require.NoError(t, err)
	assert.False(t, stored)

	v, _ := c.Get("k")
	assert.Equal(t, "first", v)
}

func TestCache_EmptyKeyRejected(t *testing.T) {
	c, err := New[int](1)
	require.NoError(t, err)

	_, err = c.Set("", 1)
	assert.Error(t, err)
	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestCache_Stats(t *testing.T) {
	c, err := New[int](0, WithMetrics[int](metric.NewMetricsRegistry(), "seen"))
	require.NoError(t, err)

	_, _ = c.Set("x", 1)
	c.Get("x")
	c.Get("y")
	deleted, _ := c.Delete("x")

	assert.True(t, deleted)
	assert.Equal(t, int64(1), c.Stats().Hits())
	assert.Equal(t, int64(1), c.Stats().Misses())
	assert.InDelta(t, 0.5, c.Stats().HitRatio(), 0.001)
	assert.Equal(t, int64(0), c.Stats().Size())
}
