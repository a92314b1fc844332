// Package cache keeps decoded tile contents under a byte budget with reference counted LRU eviction.
package cache

import (
	"sort"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/metrics"
	"github.com/golang/glog"
)

// Entry is a cached content. A composite content is one entry.
type Entry struct {
	Key     string
	Content *content.TileContent

	refCount      int
	lastUsedFrame uint64
	size          int64
}

func (e *Entry) RefCount() int         { return e.refCount }
func (e *Entry) LastUsedFrame() uint64 { return e.lastUsedFrame }
func (e *Entry) Size() int64           { return e.size }

// EvictionFunc is called, outside the cache lock, for every evicted key
type EvictionFunc func(key string)

// Cache is safe for concurrent use, every operation holds the single cache mutex
type Cache struct {
	sync.Mutex
	budget     int64
	totalBytes int64
	frame      uint64
	entries    map[string]*Entry
	onEvict    EvictionFunc
}

// budget is the byte size above which the unused entries are evicted
func NewCache(budget int64) *Cache {
	return &Cache{
		budget:  budget,
		entries: make(map[string]*Entry),
	}
}

func (c *Cache) OnEvict(fn EvictionFunc) {
	c.Lock()
	defer c.Unlock()
	c.onEvict = fn
}

// Sets the frame number stamped on the entries used from now on
func (c *Cache) BeginFrame(frame uint64) {
	c.Lock()
	defer c.Unlock()
	c.frame = frame
}

// Returns the entry and takes a reference on it, false when the key is not cached
func (c *Cache) Acquire(key string) (*Entry, bool) {
	c.Lock()
	defer c.Unlock()
	e, ok := c.entries[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	e.refCount++
	e.lastUsedFrame = c.frame
	return e, true
}

// Stores the content with no reference on it. Returns false, leaving the cached content
// untouched, when the key is already present.
// The new entry is never evicted by its own insert.
func (c *Cache) Insert(key string, tileContent *content.TileContent) bool {
	c.Lock()
	if _, ok := c.entries[key]; ok {
		c.Unlock()
		return false
	}
	e := &Entry{
		Key:           key,
		Content:       tileContent,
		lastUsedFrame: c.frame,
		size:          tileContent.ByteSize(),
	}
	c.entries[key] = e
	c.totalBytes += e.size
	metrics.CacheBytes.Add(float64(e.size))
	metrics.CacheEntries.Inc()

	evicted := c.evictLocked(key)
	onEvict := c.onEvict
	c.Unlock()

	notify(onEvict, evicted)
	return true
}

// Drops a reference. The entry stays cached once unreferenced, releasing an unreferenced key is a no-op.
func (c *Cache) Release(key string) {
	c.Lock()
	defer c.Unlock()
	if e, ok := c.entries[key]; ok && e.refCount > 0 {
		e.refCount--
	}
}

// Marks the entry as used in the current frame
func (c *Cache) Touch(key string) {
	c.Lock()
	defer c.Unlock()
	if e, ok := c.entries[key]; ok {
		e.lastUsedFrame = c.frame
	}
}

func (c *Cache) Contains(key string) bool {
	c.Lock()
	defer c.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Evicts unreferenced entries until the cache fits its budget, returns the evicted keys
func (c *Cache) Trim() []string {
	c.Lock()
	evicted := c.evictLocked("")
	onEvict := c.onEvict
	c.Unlock()

	notify(onEvict, evicted)
	return evicted
}

// Removes every entry regardless of references, used when the owner shuts down
func (c *Cache) Clear() {
	c.Lock()
	defer c.Unlock()
	metrics.CacheBytes.Sub(float64(c.totalBytes))
	metrics.CacheEntries.Sub(float64(len(c.entries)))
	c.entries = make(map[string]*Entry)
	c.totalBytes = 0
}

func (c *Cache) TotalBytes() int64 {
	c.Lock()
	defer c.Unlock()
	return c.totalBytes
}

func (c *Cache) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.entries)
}

func (c *Cache) Budget() int64 {
	return c.budget
}

// Evicts the unreferenced entries, least recently used first with ties broken by key, until the
// budget is met. Referenced entries are kept even if the budget stays exceeded.
func (c *Cache) evictLocked(keep string) []string {
	if c.totalBytes <= c.budget {
		return nil
	}
	candidates := make([]*Entry, 0, len(c.entries))
	for key, e := range c.entries {
		if e.refCount == 0 && key != keep {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastUsedFrame != candidates[j].lastUsedFrame {
			return candidates[i].lastUsedFrame < candidates[j].lastUsedFrame
		}
		return candidates[i].Key < candidates[j].Key
	})

	var evicted []string
	for _, e := range candidates {
		if c.totalBytes <= c.budget {
			break
		}
		delete(c.entries, e.Key)
		c.totalBytes -= e.size
		metrics.CacheBytes.Sub(float64(e.size))
		metrics.CacheEntries.Dec()
		metrics.CacheEvictions.Inc()
		evicted = append(evicted, e.Key)
	}
	if c.totalBytes > c.budget {
		glog.V(2).Infof("cache over budget, %d bytes in use for a budget of %d", c.totalBytes, c.budget)
	}
	return evicted
}

func notify(onEvict EvictionFunc, keys []string) {
	if onEvict == nil {
		return
	}
	for _, key := range keys {
		onEvict(key)
	}
}
