package handlers

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// replayCache remembers accepted signatures until their timestamp falls
// out of the skew window, after which the skew check rejects them anyway.
type replayCache struct {
	clock  clockwork.Clock
	window time.Duration

	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep time.Time
}

func newReplayCache(clock clockwork.Clock, window time.Duration) *replayCache {
	return &replayCache{
		clock:  clock,
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// firstUse records key as used until signedAt+window and reports whether
// it was unused.
func (c *replayCache) firstUse(key string, signedAt time.Time) bool {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(c.nextSweep) {
		for k, expires := range c.seen {
			if now.After(expires) {
				delete(c.seen, k)
			}
		}
		c.nextSweep = now.Add(c.window)
	}

	if expires, ok := c.seen[key]; ok && !now.After(expires) {
		return false
	}
	c.seen[key] = signedAt.Add(c.window)
	return true
}
