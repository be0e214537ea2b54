package positions

import (
	"sync"
	"time"
)

// lastPosition is the coordinate a trip was last emitted at, as published after
// smoothing and snapping
type lastPosition struct {
	latitude  float64
	longitude float64
	progress  float64
	at        time.Time
}

// lastPositionCache remembers recently emitted positions for anti-teleport
// smoothing. Entries older than maxAge are ignored and swept each tick.
type lastPositionCache struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries map[string]lastPosition
}

func newLastPositionCache(maxAge time.Duration) *lastPositionCache {
	return &lastPositionCache{
		maxAge:  maxAge,
		entries: make(map[string]lastPosition),
	}
}

func (c *lastPositionCache) get(key string, now time.Time) (lastPosition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, present := c.entries[key]
	if !present || now.Sub(entry.at) > c.maxAge {
		return lastPosition{}, false
	}
	return entry, true
}

func (c *lastPositionCache) put(key string, entry lastPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

func (c *lastPositionCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.Sub(entry.at) > c.maxAge {
			delete(c.entries, key)
		}
	}
}
