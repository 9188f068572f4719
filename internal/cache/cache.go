// Package cache implements a two-tier TTL cache: a bounded in-memory fast
// tier backed by an unbounded durable SQLite tier.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicolasjuan/xml-api-aggregator/internal/telemetry"
)

// Entry is one keyed payload with its expiry metadata. An entry is
// logically absent once the clock passes ExpiresAt, regardless of tier.
type Entry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
	TTL       time.Duration
	ExpiresAt time.Time
}

// Expired reports whether the entry is logically absent at the given time
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache is the tiered cache contract
type Cache interface {
	// Get returns the payload for key, or false if absent or expired.
	// Expired entries are treated as absent but are not deleted here;
	// SweepExpired is the deletion path.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores the payload in both tiers. A durable-tier failure is
	// returned, but the fast-tier write has already taken effect.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Delete removes the key from both tiers, reporting whether any
	// tier held it
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes all entries from both tiers
	Clear(ctx context.Context) error

	// SweepExpired deletes expired entries from both tiers and returns
	// the number of entries removed (counted per tier)
	SweepExpired(ctx context.Context) (int, error)
}

// Clock returns the current time. Injected so expiry is testable.
type Clock func() time.Time

// TieredCache is the default Cache implementation
type TieredCache struct {
	fast    *memoryTier
	durable *sqliteTier
	clock   Clock
	logger  *zap.SugaredLogger
	metrics *telemetry.Metrics
}

// TieredOption configures a TieredCache
type TieredOption func(*TieredCache)

// WithClock replaces the time source
func WithClock(clock Clock) TieredOption {
	return func(c *TieredCache) {
		c.clock = clock
	}
}

// WithMetrics attaches cache metrics
func WithMetrics(m *telemetry.Metrics) TieredOption {
	return func(c *TieredCache) {
		c.metrics = m
	}
}

// NewTiered opens a tiered cache with the given fast-tier capacity and
// durable tier at dbPath.
func NewTiered(dbPath string, fastCapacity int, logger *zap.SugaredLogger, opts ...TieredOption) (*TieredCache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	durable, err := newSQLiteTier(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable cache tier: %w", err)
	}

	c := &TieredCache{
		fast:    newMemoryTier(fastCapacity),
		durable: durable,
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get checks the fast tier first, then the durable tier, promoting durable
// hits into the fast tier.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.clock()

	if entry, ok := c.fast.get(key); ok {
		if entry.Expired(now) {
			c.metrics.ObserveCache("fast", "expired")
			return nil, false
		}
		c.metrics.ObserveCache("fast", "hit")
		return entry.Payload, true
	}
	c.metrics.ObserveCache("fast", "miss")

	entry, ok := c.durable.get(ctx, key)
	if !ok {
		c.metrics.ObserveCache("durable", "miss")
		return nil, false
	}
	if entry.Expired(now) {
		c.metrics.ObserveCache("durable", "expired")
		return nil, false
	}
	c.metrics.ObserveCache("durable", "hit")

	// Promote so the next read is served from memory
	if c.fast.set(entry) {
		c.metrics.ObserveCache("fast", "eviction")
	}
	return entry.Payload, true
}

// Set writes the entry to both tiers. The fast-tier write always takes
// effect; a durable-tier failure is reported to the caller.
func (c *TieredCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := c.clock()
	entry := Entry{
		Key:       key,
		Payload:   payload,
		CreatedAt: now,
		TTL:       ttl,
		ExpiresAt: now.Add(ttl),
	}

	if c.fast.set(entry) {
		c.metrics.ObserveCache("fast", "eviction")
	}

	if err := c.durable.set(ctx, entry); err != nil {
		c.logger.Warnw("Durable cache write failed", "key", key, "error", err)
		return fmt.Errorf("durable tier write failed for key %q: %w", key, err)
	}
	return nil
}

// Delete removes the key from both tiers
func (c *TieredCache) Delete(ctx context.Context, key string) (bool, error) {
	fastRemoved := c.fast.delete(key)
	durableRemoved, err := c.durable.delete(ctx, key)
	if err != nil {
		return fastRemoved, fmt.Errorf("durable tier delete failed for key %q: %w", key, err)
	}
	return fastRemoved || durableRemoved, nil
}

// Clear removes all entries from both tiers
func (c *TieredCache) Clear(ctx context.Context) error {
	c.fast.clear()
	if err := c.durable.clear(ctx); err != nil {
		return fmt.Errorf("durable tier clear failed: %w", err)
	}
	return nil
}

// SweepExpired deletes expired entries from both tiers
func (c *TieredCache) SweepExpired(ctx context.Context) (int, error) {
	now := c.clock()
	removed := c.fast.sweep(now)

	durableRemoved, err := c.durable.sweep(ctx, now)
	if err != nil {
		return removed, fmt.Errorf("durable tier sweep failed: %w", err)
	}
	return removed + durableRemoved, nil
}

// Close releases the durable tier
func (c *TieredCache) Close() error {
	return c.durable.close()
}

// RunSweeper periodically sweeps expired entries until ctx is cancelled
func (c *TieredCache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.SweepExpired(ctx)
			if err != nil {
				c.logger.Warnw("Cache sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				c.logger.Debugw("Swept expired cache entries", "removed", removed)
			}
		}
	}
}
