package cache

import (
	"fmt"
	"time"
)

const (
	// AggregateResultKey is the logical key for the latest aggregate result
	AggregateResultKey = "aggregate:latest"

	// AggregateTTL is the expiry for aggregate-result entries. Kept short:
	// aggregates are cheap to recompute and must reflect newly-arrived
	// per-source data sooner than source-scoped entries.
	AggregateTTL = 60 * time.Second

	// MinSourceTTL is the floor on source-scoped entry expiry
	MinSourceTTL = 30 * time.Second
)

// SourceKey derives the cache key for a source's raw document. Keys are
// scoped by id only; staleness is controlled solely by TTL.
func SourceKey(id string) string {
	return "source:" + id
}

// BucketedKey derives a key scoped by a coarse 60-second time bucket, so
// repeated calls within the same bucket address the same key. Callers
// wanting request-coalescing semantics may use it; the pipeline itself
// keys by SourceKey and relies on TTL.
func BucketedKey(id string, now time.Time) string {
	return fmt.Sprintf("source:%s:%d", id, now.Unix()/60)
}

// SourceTTL derives the expiry for a source-scoped entry from the source's
// refresh interval, so cached data goes stale before the next scheduled
// retrieval would occur.
func SourceTTL(interval time.Duration) time.Duration {
	ttl := interval / 2
	if ttl < MinSourceTTL {
		return MinSourceTTL
	}
	return ttl
}
