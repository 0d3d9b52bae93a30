package proximity

import (
	"github.com/sells-group/antenna-proximity/internal/geo"
	"github.com/sells-group/antenna-proximity/internal/model"
)

// Cache remembers the last contour classification of each antenna together
// with the observer position the entries were computed around.
//
// Cache is not safe for concurrent use. The resolver loop is its only user.
type Cache struct {
	entries map[model.AntennaID]bool
	ref     model.Position
	hasRef  bool
}

// NewCache returns an empty cache without a reference position.
func NewCache() *Cache {
	return &Cache{entries: make(map[model.AntennaID]bool)}
}

// Get returns the cached classification of id. ok is false when the antenna
// has not been evaluated.
func (c *Cache) Get(id model.AntennaID) (near, ok bool) {
	near, ok = c.entries[id]
	return near, ok
}

// Put records a classification.
func (c *Cache) Put(id model.AntennaID, near bool) {
	c.entries[id] = near
}

// InvalidateFarEntries evicts every entry whose antenna is not in candidates
// and returns how many were evicted.
func (c *Cache) InvalidateFarEntries(candidates []model.AntennaID) int {
	keep := make(map[model.AntennaID]struct{}, len(candidates))
	for _, id := range candidates {
		keep[id] = struct{}{}
	}
	evicted := 0
	for id := range c.entries {
		if _, ok := keep[id]; !ok {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// Revalidate checks pos against the reference position. The first call only
// sets the reference. When pos is more than threshold meters away the
// reference moves to pos, entries outside candidates are evicted and
// Revalidate returns true: the surviving entries are stale for this round.
func (c *Cache) Revalidate(pos model.Position, threshold float64, candidates []model.AntennaID) (refresh bool, evicted int) {
	if !c.hasRef {
		c.ref, c.hasRef = pos, true
		return false, 0
	}
	if geo.Distance(c.ref, pos) <= threshold {
		return false, 0
	}
	c.ref = pos
	return true, c.InvalidateFarEntries(candidates)
}

// Clear drops all entries and the reference position.
func (c *Cache) Clear() {
	clear(c.entries)
	c.hasRef = false
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
