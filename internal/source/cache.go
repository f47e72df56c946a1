package source

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/workspace"
)

const cacheType = "url"

type entry struct {
	key     string
	path    string
	created time.Time
	refs    int
	dropped bool
}

// Cache maps link keys to downloaded files. Entries are reference counted:
// a dropped entry keeps its file until the last holder releases it.
type Cache struct {
	size  int
	evict int
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates a cache holding at most size entries. When full, the
// evict oldest entries are dropped at once.
func NewCache(size, evict int, ttl time.Duration) *Cache {
	if evict < 1 {
		evict = 1
	}
	return &Cache{
		size:    size,
		evict:   evict,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Handle is a held reference to a cached file
type Handle struct {
	Path   string
	Cached bool

	once    sync.Once
	release func()
}

// Release drops the reference. It is safe to call more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// Acquire returns a handle on a live entry. Expired entries and entries
// whose file is gone count as misses.
func (c *Cache) Acquire(key string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().Sub(e.created) >= c.ttl {
		c.dropLocked(e)
		ok = false
	}
	if ok {
		if _, err := os.Stat(e.path); err != nil {
			c.dropLocked(e)
			ok = false
		}
	}
	metrics.RecordCacheAccess(cacheType, ok)
	if !ok {
		return nil, false
	}

	e.refs++
	return c.handleLocked(e, true), true
}

// Put inserts path under key and returns a held handle on it. A live entry
// under the same key is replaced.
func (c *Cache) Put(key, path string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		if old.path == path {
			old.refs++
			return c.handleLocked(old, false)
		}
		c.dropLocked(old)
	}
	if len(c.entries) >= c.size {
		c.evictLocked()
	}

	e := &entry{key: key, path: path, created: c.now(), refs: 1}
	c.entries[key] = e
	return c.handleLocked(e, false)
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.dropLocked(e)
	}
}

func (c *Cache) handleLocked(e *entry, cached bool) *Handle {
	return &Handle{
		Path:   e.path,
		Cached: cached,
		release: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			e.refs--
			if e.dropped && e.refs <= 0 {
				workspace.Remove(e.path)
			}
		},
	}
}

// evictLocked drops the oldest entries by insertion time
func (c *Cache) evictLocked() {
	all := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })

	n := c.evict
	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		c.dropLocked(e)
	}
	metrics.RecordCacheEviction(cacheType, n)
}

func (c *Cache) dropLocked(e *entry) {
	if cur, ok := c.entries[e.key]; ok && cur == e {
		delete(c.entries, e.key)
	}
	e.dropped = true
	if e.refs <= 0 {
		workspace.Remove(e.path)
	}
}
