// Package dircache caches directory listings per connection and guards pane
// navigation against stale responses.
package dircache

import (
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"panesync/internal/entry"
)

const (
	// DefaultTTL is how long a listing is served without refetching.
	DefaultTTL = 10 * time.Second

	// DefaultSize bounds the number of cached directories.
	DefaultSize = 256
)

// Key namespaces a listing by connection so two panes on the same host never
// share entries.
type Key struct {
	ConnectionID string
	Path         string
}

// Entry is a cached directory listing.
type Entry struct {
	Files     []entry.FileEntry
	Timestamp time.Time
}

// Cache provides a time-limited, size-bounded cache for directory listings.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[Key, *Entry]
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates a cache. A non-positive ttl or size selects the default.
func New(ttl time.Duration, size int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[Key, *Entry](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	c := &Cache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	// Drive-letter paths like C:/Users.
	cleaned := path.Clean(p)
	if strings.HasSuffix(cleaned, ":") {
		cleaned += "/"
	}
	return cleaned
}

func key(connID, p string) Key {
	return Key{ConnectionID: connID, Path: normalize(p)}
}

// Get returns a copy of the cached listing for (connID, p). Expired entries
// and forced reads are misses.
func (c *Cache) Get(connID, p string, force bool) ([]entry.FileEntry, bool) {
	if force {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key(connID, p))
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.Timestamp) >= c.ttl {
		return nil, false
	}

	files := make([]entry.FileEntry, len(e.Files))
	copy(files, e.Files)
	return files, true
}

// Set stores a copy of files for (connID, p), dropping any ".." entry.
func (c *Cache) Set(connID, p string, files []entry.FileEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key(connID, p), &Entry{
		Files:     entry.WithoutParent(files),
		Timestamp: c.now(),
	})
}

// Invalidate removes one listing.
func (c *Cache) Invalidate(connID, p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key(connID, p))
}

// InvalidateConnection removes every listing of connID.
func (c *Cache) InvalidateConnection(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.entries.Keys() {
		if k.ConnectionID == connID {
			c.entries.Remove(k)
		}
	}
}

// Purge clears the entire cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len returns the number of cached listings, expired ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// cleanupLoop periodically removes expired entries.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && now.Sub(e.Timestamp) >= c.ttl {
			c.entries.Remove(k)
		}
	}
}
