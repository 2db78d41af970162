// Package seen implements an expiring set of peer ids.
//
// The engine records ids whose incoming connection was refused. Until the
// entry expires a new greeting from the same id is dropped without asking
// the monitors again, so a peer that reconnects in a loop cannot flood the
// approval path.
//
// Expired entries are removed lazily on lookup, by Prune, and by Add once
// the set has doubled since the last sweep, so the set stays within twice
// its live size even when ids never repeat.
package seen

import (
	"sync"
	"time"
)

const DefaultExpiry = 60 * time.Second

const minSweep = 64

// Cache is a concurrent-safe expiring set. The zero expiry disables it:
// Add records nothing and Has is always false.
type Cache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	expiry  time.Duration
	sweepAt int
	now     func() time.Time
}

// New creates a Cache with the given expiry duration.
func New(expiry time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]time.Time),
		expiry:  expiry,
		sweepAt: minSweep,
		now:     time.Now,
	}
}

// Has returns true if id was previously added and has not expired.
func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[id]
	if !ok {
		return false
	}
	if c.now().After(exp) {
		delete(c.entries, id)
		return false
	}
	return true
}

// Add records id with the configured expiry time.
// Returns true if id was not already present.
func (c *Cache) Add(id string) bool {
	if c.expiry <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.entries[id]; ok && now.Before(exp) {
		return false
	}
	c.entries[id] = now.Add(c.expiry)
	if len(c.entries) >= c.sweepAt {
		c.pruneLocked(now)
		c.sweepAt = max(minSweep, 2*len(c.entries))
	}
	return true
}

// Forget removes id before it expires.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Prune drops every expired entry and returns how many remain.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return len(c.entries)
}

func (c *Cache) pruneLocked(now time.Time) {
	for id, exp := range c.entries {
		if now.After(exp) {
			delete(c.entries, id)
		}
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
