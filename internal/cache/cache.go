// Package cache holds derived aggregation results between refreshes.
//
// Entries are typed {payload, computedAt} pairs: staleness is an explicit
// policy decision by the caller, not an eviction side effect. A stale entry
// keeps serving reads while a background refresh replaces it; only entries
// older than the retention window disappear entirely.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one cached payload with the time it was computed.
type Entry[T any] struct {
	Payload    T
	ComputedAt time.Time
}

// StaleAfter reports whether the entry is older than the given TTL.
func (e Entry[T]) StaleAfter(ttl time.Duration) bool {
	return time.Since(e.ComputedAt) > ttl
}

// LRU is a size-bounded cache with a hard retention window. Reads within
// the window always succeed, even for stale entries; the caller decides
// whether to refresh based on ComputedAt.
type LRU[T any] struct {
	mu        sync.Mutex
	maxSize   int
	retention time.Duration
	items     map[string]*list.Element
	order     *list.List
}

type lruItem[T any] struct {
	key   string
	entry Entry[T]
}

func NewLRU[T any](maxSize int, retention time.Duration) *LRU[T] {
	return &LRU[T]{
		maxSize:   maxSize,
		retention: retention,
		items:     make(map[string]*list.Element),
		order:     list.New(),
	}
}

// Get returns the entry for key. Entries older than the retention window
// are dropped and reported as misses.
func (c *LRU[T]) Get(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Entry[T]{}, false
	}
	item := elem.Value.(*lruItem[T])
	if time.Since(item.entry.ComputedAt) > c.retention {
		c.removeElement(elem)
		return Entry[T]{}, false
	}
	c.order.MoveToFront(elem)
	return item.entry, true
}

// Set stores the payload stamped with the current time.
func (c *LRU[T]) Set(key string, payload T) {
	c.SetAt(key, payload, time.Now())
}

// SetAt stores the payload with an explicit computation time. A refresh
// pass uses its own start time here so an older pass can be recognized and
// discarded when it lands late.
func (c *LRU[T]) SetAt(key string, payload T, computedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry[T]{Payload: payload, ComputedAt: computedAt}
	if elem, ok := c.items[key]; ok {
		elem.Value = &lruItem[T]{key: key, entry: entry}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&lruItem[T]{key: key, entry: entry})
	c.items[key] = elem

	if c.order.Len() > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes a key, forcing the next read through to a fresh compute.
func (c *LRU[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// CleanExpired drops every entry past the retention window and returns the
// number removed.
func (c *LRU[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*lruItem[T])
		if time.Since(item.entry.ComputedAt) > c.retention {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}
	return len(toRemove)
}

func (c *LRU[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU[T]) removeElement(elem *list.Element) {
	item := elem.Value.(*lruItem[T])
	delete(c.items, item.key)
	c.order.Remove(elem)
}
