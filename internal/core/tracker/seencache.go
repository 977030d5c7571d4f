package tracker

import "time"

// SeenCache remembers which accessions were recently recorded so the
// tracker can suppress re-processing without a store round trip. Entries
// expire after a fixed TTL. Eviction is amortized: a full sweep runs every
// sweepEvery lookups instead of on every read, which bounds memory without
// making each lookup O(n).
//
// The cache is not safe for concurrent use on its own; the tracker's lock
// guards it.
type SeenCache struct {
	ttl        time.Duration
	sweepEvery int
	entries    map[string]time.Time
	lookups    int
}

// NewSeenCache builds an empty cache. Non-positive arguments fall back to
// a 15 minute TTL and a sweep every 64 lookups.
func NewSeenCache(ttl time.Duration, sweepEvery int) *SeenCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = 64
	}
	return &SeenCache{
		ttl:        ttl,
		sweepEvery: sweepEvery,
		entries:    make(map[string]time.Time),
	}
}

// Mark records that the accession was persisted at the given time.
func (c *SeenCache) Mark(accession string, at time.Time) {
	if accession == "" {
		return
	}
	c.entries[accession] = at
}

// Contains reports whether the accession was recorded within the TTL.
func (c *SeenCache) Contains(accession string, now time.Time) bool {
	c.lookups++
	if c.lookups >= c.sweepEvery {
		c.lookups = 0
		c.sweep(now)
	}

	at, ok := c.entries[accession]
	if !ok {
		return false
	}
	if now.Sub(at) > c.ttl {
		delete(c.entries, accession)
		return false
	}
	return true
}

func (c *SeenCache) sweep(now time.Time) {
	for accession, at := range c.entries {
		if now.Sub(at) > c.ttl {
			delete(c.entries, accession)
		}
	}
}

// Clear drops every entry. Used between work sessions and in tests.
func (c *SeenCache) Clear() {
	c.entries = make(map[string]time.Time)
	c.lookups = 0
}

// Len reports the current entry count, expired or not.
func (c *SeenCache) Len() int {
	return len(c.entries)
}
