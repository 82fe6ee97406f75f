package gamebox

import (
	"sync"
	"time"

	"github.com/spf13/afero"
)

// DefaultWritableTTL is how long a writability check stays valid.
const DefaultWritableTTL = 3 * time.Second

type writableEntry struct {
	writable  bool
	checkedAt time.Time
}

// WritableCache remembers recent writability checks so that repeated
// queries do not hit the disk.
type WritableCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]writableEntry
}

// NewWritableCache creates a cache whose entries expire after ttl.
func NewWritableCache(ttl time.Duration) *WritableCache {
	return &WritableCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]writableEntry),
	}
}

// Lookup returns the cached answer for path, if it has not expired.
func (c *WritableCache) Lookup(path string) (writable, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[path]
	if !found || c.now().Sub(e.checkedAt) >= c.ttl {
		return false, false
	}
	return e.writable, true
}

// Store records the answer for path.
func (c *WritableCache) Store(path string, writable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = writableEntry{writable: writable, checkedAt: c.now()}
}

// Invalidate forgets the answer for path.
func (c *WritableCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// probeWritable creates and removes a scratch file in dir.
func probeWritable(fsys afero.Fs, dir string) bool {
	f, err := afero.TempFile(fsys, dir, ".writable-")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	fsys.Remove(name)
	return true
}
