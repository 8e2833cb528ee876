package cache

import (
	"container/list"
	"context"
	"sync"
)

// LRU is a size-bounded BlockCache with least-recently-used eviction.
// Safe for concurrent use.
type LRU struct {
	maxBytes int64

	mu    sync.Mutex
	size  int64
	order *list.List // front = most recent
	items map[string]*list.Element
}

type lruEntry struct {
	key string
	b   []byte
}

// NewLRU creates an LRU holding at most maxBytes of block data. A
// non-positive limit means unbounded.
func NewLRU(maxBytes int64) *LRU {
	return &LRU{
		maxBytes: maxBytes,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get implements BlockCache.
func (c *LRU) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).b, true
}

// Set implements BlockCache. Blocks larger than the cache limit are not
// admitted.
func (c *LRU) Set(_ context.Context, key string, b []byte) {
	if c.maxBytes > 0 && int64(len(b)) > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		c.size += int64(len(b)) - int64(len(entry.b))
		entry.b = b
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(&lruEntry{key: key, b: b})
		c.size += int64(len(b))
	}

	for c.maxBytes > 0 && c.size > c.maxBytes {
		c.evictOldest()
	}
}

// Size returns the total bytes currently held.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := c.order.Remove(el).(*lruEntry)
	delete(c.items, entry.key)
	c.size -= int64(len(entry.b))
}
