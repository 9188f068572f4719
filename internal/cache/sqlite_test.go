package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLiteTier(t *testing.T) *sqliteTier {
	t.Helper()
	tier, err := newSQLiteTier(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tier.close()
	})
	return tier
}

func TestSQLiteTier_RoundTrip(t *testing.T) {
	t.Parallel()

	tier := newTestSQLiteTier(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	entry := Entry{
		Key:       "k",
		Payload:   []byte("payload"),
		CreatedAt: now,
		TTL:       time.Minute,
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, tier.set(ctx, entry))

	got, ok := tier.get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, entry.Payload, got.Payload)
	assert.Equal(t, entry.TTL, got.TTL)
	assert.True(t, entry.ExpiresAt.Equal(got.ExpiresAt))

	_, ok = tier.get(ctx, "absent")
	assert.False(t, ok)
}

func TestSQLiteTier_OverwriteReplaces(t *testing.T) {
	t.Parallel()

	tier := newTestSQLiteTier(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, tier.set(ctx, entryAt("k", now, time.Minute)))

	updated := entryAt("k", now, time.Hour)
	updated.Payload = []byte("new payload")
	require.NoError(t, tier.set(ctx, updated))

	got, ok := tier.get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("new payload"), got.Payload)
}

func TestSQLiteTier_Sweep(t *testing.T) {
	t.Parallel()

	tier := newTestSQLiteTier(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, tier.set(ctx, entryAt("fresh", now, time.Hour)))
	require.NoError(t, tier.set(ctx, entryAt("stale", now, 10*time.Millisecond)))

	removed, err := tier.sweep(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := tier.get(ctx, "stale")
	assert.False(t, ok)
	_, ok = tier.get(ctx, "fresh")
	assert.True(t, ok)
}

func TestSQLiteTier_CorruptedRowPurgedAsMiss(t *testing.T) {
	t.Parallel()

	tier := newTestSQLiteTier(t)
	ctx := context.Background()

	// Plant a row the reader cannot scan
	_, err := tier.db.ExecContext(ctx,
		"INSERT INTO cache_entries (key, payload, created_at, ttl_ms, expires_at) VALUES (?, ?, ?, ?, ?)",
		"bad", []byte("x"), "not-a-number", "garbage", "nope")
	require.NoError(t, err)

	_, ok := tier.get(ctx, "bad")
	assert.False(t, ok)

	// The purge removed the row entirely
	var count int
	row := tier.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries WHERE key = ?", "bad")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 0, count)
}
