package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for expiry tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, capacity int, clock *fakeClock) *TieredCache {
	t.Helper()
	return newTestCacheAt(t, filepath.Join(t.TempDir(), "cache.db"), capacity, clock)
}

func newTestCacheAt(t *testing.T, dbPath string, capacity int, clock *fakeClock) *TieredCache {
	t.Helper()
	c, err := NewTiered(dbPath, capacity, nil, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func TestTieredCache_SetGet(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok = c.Get(ctx, "absent")
	assert.False(t, ok)
}

func TestTieredCache_ExpiryIsLazy(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 100*time.Millisecond))

	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	clock.Advance(150 * time.Millisecond)

	// Expired entries read as absent but stay resident until swept
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.fast.len())

	removed, err := c.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "one entry removed per tier")
	assert.Equal(t, 0, c.fast.len())
}

func TestTieredCache_ExpiredInBothTiers(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	clock := newFakeClock()
	ctx := context.Background()

	writer := newTestCacheAt(t, dbPath, 10, clock)
	require.NoError(t, writer.Set(ctx, "k", []byte("v"), 100*time.Millisecond))
	require.NoError(t, writer.Close())

	clock.Advance(150 * time.Millisecond)

	// A fresh instance has an empty fast tier, so the read goes to the
	// durable tier, which must also treat the entry as absent.
	reader := newTestCacheAt(t, dbPath, 10, clock)
	_, ok := reader.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTieredCache_DurableHitPromotesToFast(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	clock := newFakeClock()
	ctx := context.Background()

	writer := newTestCacheAt(t, dbPath, 10, clock)
	require.NoError(t, writer.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, writer.Close())

	reader := newTestCacheAt(t, dbPath, 10, clock)
	require.Equal(t, 0, reader.fast.len())

	got, ok := reader.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, reader.fast.len(), "durable hit should be promoted")
}

func TestTieredCache_FastTierEvictionBound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 3, clock)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Set(ctx, key, []byte(key), time.Hour))
	}

	assert.Equal(t, 3, c.fast.len(), "fast tier never exceeds its capacity")
	_, ok := c.fast.get("a")
	assert.False(t, ok, "oldest-inserted key evicted from the fast tier")

	// The durable tier is unbounded, so the evicted key is still served
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got)
}

func TestTieredCache_DeleteAndClear(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Hour))
	require.NoError(t, c.Set(ctx, "k2", []byte("v2"), time.Hour))

	removed, err := c.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, c.Clear(ctx))
	_, ok := c.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestSourceTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{name: "half the interval", interval: 10 * time.Minute, want: 5 * time.Minute},
		{name: "floor applied", interval: 20 * time.Second, want: MinSourceTTL},
		{name: "exactly at floor", interval: time.Minute, want: MinSourceTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SourceTTL(tt.interval))
		})
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "source:weather", SourceKey("weather"))

	bucketTime := time.Unix(120, 0)
	assert.Equal(t, "source:weather:2", BucketedKey("weather", bucketTime))
	assert.Equal(t, BucketedKey("weather", bucketTime), BucketedKey("weather", bucketTime.Add(30*time.Second)),
		"times in the same bucket derive the same key")
	assert.NotEqual(t, BucketedKey("weather", bucketTime), BucketedKey("weather", bucketTime.Add(time.Minute)))
}
