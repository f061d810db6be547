// ABOUTME: Per-conversation lock registry enforcing at-most-one in-flight completion
// ABOUTME: Acquire is non-blocking; a held lock means the caller gets a busy error

package chat

import "sync"

// convLocks hands out one mutex per conversation id. All map access and
// try-locking happens under the registry mutex, so an entry can be removed
// on release without racing a concurrent acquire.
type convLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[string]*sync.Mutex)}
}

// tryAcquire attempts to take the lock for a conversation without blocking.
// Returns false if another send is already in flight for it.
func (c *convLocks) tryAcquire(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[conversationID] = l
	}
	return l.TryLock()
}

// release unlocks and drops the entry so the registry doesn't grow with
// every conversation ever touched.
func (c *convLocks) release(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.locks[conversationID]; ok {
		l.Unlock()
		delete(c.locks, conversationID)
	}
}
