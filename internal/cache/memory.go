package cache

import (
	"sync"
	"time"
)

// memoryTier is the bounded fast tier. Eviction is insertion-order: when a
// new key must be inserted at capacity, the oldest-inserted entry goes.
// Overwriting an existing key keeps its original insertion position.
type memoryTier struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Entry
	order    []string // insertion order, oldest first
}

func newMemoryTier(capacity int) *memoryTier {
	return &memoryTier{
		capacity: capacity,
		entries:  make(map[string]Entry, capacity),
	}
}

func (t *memoryTier) get(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	return entry, ok
}

// set stores the entry, reporting whether an eviction happened
func (t *memoryTier) set(entry Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[entry.Key]; exists {
		t.entries[entry.Key] = entry
		return false
	}

	evicted := false
	if len(t.entries) >= t.capacity && len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.entries, oldest)
		evicted = true
	}

	t.entries[entry.Key] = entry
	t.order = append(t.order, entry.Key)
	return evicted
}

func (t *memoryTier) delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	t.removeFromOrder(key)
	return true
}

func (t *memoryTier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]Entry, t.capacity)
	t.order = nil
}

func (t *memoryTier) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, entry := range t.entries {
		if entry.Expired(now) {
			delete(t.entries, key)
			t.removeFromOrder(key)
			removed++
		}
	}
	return removed
}

func (t *memoryTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// removeFromOrder must be called with the lock held
func (t *memoryTier) removeFromOrder(key string) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}
