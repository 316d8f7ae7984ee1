package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wb-go/wbf/zlog"
)

// LoadFunc loads the payload and content type for a key from durable
// storage. It is used by Preload to warm the cache; returning an error means
// the source is absent and the preload is skipped.
type LoadFunc func(key string) ([]byte, string, error)

// entry is the cached value plus its access bookkeeping. Entries are owned
// exclusively by the cache; Get hands out copies of the payload.
type entry struct {
	key            string
	payload        []byte
	contentType    string
	sizeBytes      int64
	lastAccessTime time.Time
	accessCount    int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries      int
	CurrentBytes int64
	MaxBytes     int64
	Hits         int64
	Misses       int64
	Evictions    int64
}

// Cache is a size-bounded in-memory store for encoded derivatives with
// least-recently-used eviction. The recency list keeps the most recently
// used entry at the front; entries with identical access times therefore
// evict oldest-insertion first.
//
// Invariant after every mutating operation: currentBytes equals the sum of
// all entry sizes and does not exceed maxBytes, except for the documented
// single-oversized-entry case.
type Cache struct {
	mu       sync.RWMutex
	maxBytes int64
	curBytes int64
	entries  map[string]*list.Element
	order    *list.List // *entry values, front = most recently used
	loader   LoadFunc

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache bounded by maxBytes. loader may be nil, in which case
// Preload is a no-op.
func New(maxBytes int64, loader LoadFunc) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		loader:   loader,
	}
}

// Get returns a copy of the cached payload and its content type. On a hit
// the entry's access time and count are updated. The payload copy is made
// under the read lock so concurrent readers overlap; the recency update
// retakes the write lock briefly afterwards.
func (c *Cache) Get(key string) ([]byte, string, bool) {
	c.mu.RLock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.RUnlock()
		c.misses.Add(1)
		return nil, "", false
	}
	e := el.Value.(*entry)
	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)
	contentType := e.contentType
	c.mu.RUnlock()

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.lastAccessTime = time.Now()
		e.accessCount++
		c.order.MoveToFront(el)
	}
	c.mu.Unlock()
	c.hits.Add(1)

	return payload, contentType, true
}

// Set inserts or overwrites the entry for key, evicting least recently used
// entries until the new payload fits. If the payload alone exceeds the
// cache capacity the cache degrades to holding only that entry; this is
// logged as a warning, not treated as an error.
func (c *Cache) Set(key string, payload []byte, contentType string) {
	size := int64(len(payload))

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}

	for c.curBytes+size > c.maxBytes && c.order.Len() > 0 {
		c.removeElement(c.order.Back())
		c.evictions.Add(1)
	}

	if size > c.maxBytes {
		zlog.Logger.Warn().
			Str("key", key).
			Int64("size", size).
			Int64("max", c.maxBytes).
			Msg("cache entry exceeds capacity, cache degraded to a single entry")
	}

	el := c.order.PushFront(&entry{
		key:            key,
		payload:        payload,
		contentType:    contentType,
		sizeBytes:      size,
		lastAccessTime: time.Now(),
		accessCount:    0,
	})
	c.entries[key] = el
	c.curBytes += size
}

// Preload warms the cache for a known key from durable storage. Absence of
// the source, or the lack of a loader, is not an error: the cache is simply
// left untouched.
func (c *Cache) Preload(key string) {
	if c.loader == nil {
		return
	}

	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return
	}

	payload, contentType, err := c.loader(key)
	if err != nil {
		return
	}

	c.Set(key, payload, contentType)
}

// Remove deletes the entry for key if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.curBytes = 0
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Entries:      c.order.Len(),
		CurrentBytes: c.curBytes,
		MaxBytes:     c.maxBytes,
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.evictions.Load(),
	}
}

// CurrentBytes returns the total size of all cached payloads.
func (c *Cache) CurrentBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.curBytes
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.order.Len()
}

// removeElement must be called with the write lock held.
func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	c.curBytes -= e.sizeBytes
}
