package arrivals

import (
	"sync"
	"time"
)

// Cache holds the arrival estimates most recently fetched per stop.
// Entries older than maxAge are treated as absent, routing the reconciler
// to a lower-confidence layer. Readers and the poller run concurrently.
type Cache struct {
	mu      sync.RWMutex
	maxAge  time.Duration
	entries map[string]cacheEntry

	requests  int64
	successes int64
	failures  int64
}

type cacheEntry struct {
	estimates []Estimate
	fetchedAt time.Time
}

// NewCache builds a Cache treating entries older than maxAge as stale
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		maxAge:  maxAge,
		entries: make(map[string]cacheEntry),
	}
}

// Put replaces the estimates for a stop key
func (c *Cache) Put(stopKey string, estimates []Estimate, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stopKey] = cacheEntry{estimates: estimates, fetchedAt: fetchedAt}
}

// EstimateFor implements Snapshot. The stop is looked up by code first, then id.
func (c *Cache) EstimateFor(stopId string, stopCode string, line string) *Estimate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	normalized := NormalizeLine(line)
	for _, key := range stopKeys(stopId, stopCode) {
		entry, present := c.entries[key]
		if !present || c.expired(entry) {
			continue
		}
		for i := range entry.estimates {
			if NormalizeLine(entry.estimates[i].Line) == normalized {
				estimate := entry.estimates[i]
				return &estimate
			}
		}
	}
	return nil
}

func (c *Cache) expired(entry cacheEntry) bool {
	return time.Since(entry.fetchedAt) > c.maxAge
}

func stopKeys(stopId string, stopCode string) []string {
	keys := make([]string, 0, 2)
	if stopCode != "" {
		keys = append(keys, stopCode)
	}
	if stopId != "" {
		keys = append(keys, stopId)
	}
	return keys
}

// CountRequest records one feed request and its outcome
func (c *Cache) CountRequest(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	if success {
		c.successes++
	} else {
		c.failures++
	}
}

// Stats returns the request counters accumulated since process start
func (c *Cache) Stats() (requests, successes, failures int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requests, c.successes, c.failures
}
