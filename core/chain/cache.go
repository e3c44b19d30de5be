package chain

import (
	"container/list"
	"sync"

	"srishti/core/block"
)

// Cache is a bounded LRU over recently accessed blocks, keyed by chain index.
// It exists to spare the storage layer a round-trip on hot reads; only the
// chain's append/read path writes to it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[int]*list.Element
}

type cacheEntry struct {
	index int
	blk   *block.Block
}

// NewCache creates a cache holding at most capacity blocks.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  map[int]*list.Element{},
	}
}

// Get returns the cached block at index, marking it most recently used.
func (c *Cache) Get(index int) (*block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[index]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).blk, true
}

// Put inserts or refreshes a block, evicting the least recently used entry at
// capacity.
func (c *Cache) Put(index int, blk *block.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[index]; ok {
		el.Value.(*cacheEntry).blk = blk
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).index)
		}
	}
	c.entries[index] = c.order.PushFront(&cacheEntry{index: index, blk: blk})
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry. Used on wholesale chain replacement.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = map[int]*list.Element{}
}
