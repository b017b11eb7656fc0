package tracker

import (
	"sync"
	"time"
)

// LabelCache is a process-wide, read-mostly cache of repository label names.
// Entries are immutable once stored; a label creation invalidates the whole
// repo key instead of patching the entry.
type LabelCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]labelEntry
	now     func() time.Time
}

type labelEntry struct {
	names     []string
	fetchedAt time.Time
}

// NewLabelCache creates a cache with the given TTL. A zero TTL defaults to
// five minutes.
func NewLabelCache(ttl time.Duration) *LabelCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LabelCache{
		ttl:     ttl,
		entries: make(map[string]labelEntry),
		now:     time.Now,
	}
}

// Get returns the cached label names for a repo key, if present and fresh.
func (c *LabelCache) Get(repo string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[repo]
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return e.names, true
}

// Put stores label names for a repo key.
func (c *LabelCache) Put(repo string, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[repo] = labelEntry{names: names, fetchedAt: c.now()}
}

// Invalidate drops the whole entry for a repo key.
func (c *LabelCache) Invalidate(repo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, repo)
}
