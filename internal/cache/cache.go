// Package cache holds computed ranges per open document with least-recently
// used eviction.
package cache

import (
	"container/list"
	"sync"

	"github.com/dshills/regexlight/internal/match"
)

// DefaultCapacity is the number of documents kept when no capacity is given.
const DefaultCapacity = 32

// Entry is the result of one evaluation of a document.
type Entry struct {
	Ranges map[int][]match.Range
	// Fingerprint identifies the document text the ranges were computed from.
	Fingerprint uint64
	// Generation identifies the rule tree the ranges were computed with.
	Generation uint64
}

// Stats reports cache activity since creation or the last Clear.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Len       int
	Capacity  int
}

// Cache is an LRU cache of entries keyed by document.
// It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lru      *list.List

	hits      uint64
	misses    uint64
	evictions uint64
}

type item struct {
	key   string
	entry Entry
}

// New creates a cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the entry for key and marks it most recently used.
// The returned entry is a copy.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return copyEntry(elem.Value.(*item).entry), true //nolint:errcheck // list only contains *item
}

// Put stores the entry for key, replacing any previous one, and marks it
// most recently used. Adding a key beyond capacity evicts the least recently
// used key.
func (c *Cache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*item).entry = copyEntry(e) //nolint:errcheck // list only contains *item
		return
	}

	elem := c.lru.PushFront(&item{key: key, entry: copyEntry(e)})
	c.items[key] = elem
	for c.lru.Len() > c.capacity {
		c.evictOldest()
	}
}

// Invalidate drops the entry for key. It reports whether one was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok {
		c.removeElement(elem)
	}
	return ok
}

// Clear drops every entry and resets the statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the keys from most to least recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.lru.Len())
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*item).key) //nolint:errcheck // list only contains *item
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Len:       c.lru.Len(),
		Capacity:  c.capacity,
	}
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *Cache) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions++
	}
}

// removeElement must be called with lock held.
func (c *Cache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*item).key) //nolint:errcheck // list only contains *item
}

func copyEntry(e Entry) Entry {
	out := Entry{Fingerprint: e.Fingerprint, Generation: e.Generation}
	if e.Ranges != nil {
		out.Ranges = make(map[int][]match.Range, len(e.Ranges))
		for slot, rs := range e.Ranges {
			out.Ranges[slot] = append([]match.Range(nil), rs...)
		}
	}
	return out
}
