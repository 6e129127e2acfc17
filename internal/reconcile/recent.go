package reconcile

import (
	"sync"
	"time"
)

// DefaultRecentExpiry is how long a locally appended message id stays
// claimed. The window only needs to outlive the durable store's
// notification round trip; ids fall out automatically afterwards.
const DefaultRecentExpiry = 3 * time.Second

// recentTracker remembers message ids this session appended optimistically,
// for long enough that the durable echo of the same write is recognized as
// ours rather than treated as a foreign append.
type recentTracker struct {
	mu     sync.Mutex
	expiry time.Duration
	ids    map[string]time.Time
	now    func() time.Time
}

func newRecentTracker(expiry time.Duration) *recentTracker {
	if expiry <= 0 {
		expiry = DefaultRecentExpiry
	}
	return &recentTracker{
		expiry: expiry,
		ids:    make(map[string]time.Time),
		now:    time.Now,
	}
}

// Mark records a locally appended id.
func (t *recentTracker) Mark(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	t.ids[id] = t.now()
}

// Claimed reports whether an id was appended locally within the expiry
// window.
func (t *recentTracker) Claimed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	_, ok := t.ids[id]
	return ok
}

// Release drops an id before its window expires, used when the local
// record is removed (truncation) so a late echo may legitimately append.
func (t *recentTracker) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, id)
}

func (t *recentTracker) prune() {
	cutoff := t.now().Add(-t.expiry)
	for id, at := range t.ids {
		if at.Before(cutoff) {
			delete(t.ids, id)
		}
	}
}
