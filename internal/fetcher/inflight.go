package fetcher

import "sync"

// inflightTracker tracks which source ids currently have an outstanding
// retrieval. Acquisition is an atomic check-and-set so that two concurrent
// triggers (e.g. a scheduled run overlapping a manual run) never both
// perform network I/O for the same source.
type inflightTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newInflightTracker() *inflightTracker {
	return &inflightTracker{
		active: make(map[string]struct{}),
	}
}

// tryAcquire marks the id active. Returns false if it already was.
func (t *inflightTracker) tryAcquire(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

// release clears the id. Safe to call for ids that were never acquired.
func (t *inflightTracker) release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}
