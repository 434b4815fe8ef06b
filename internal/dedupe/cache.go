// ABOUTME: Thread-safe TTL key set used to reject overlapping work on the same key.
// ABOUTME: The turn coordinator marks a thread while a turn runs and releases it when done.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	marked time.Time
}

// Cache is a size-limited set of keys whose membership lapses after ttl.
// Keys are held in mark order so the oldest can be evicted in O(1). The ttl
// bounds how long a key stays held if its owner never releases it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its background expiry sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	interval := time.Minute
	if ttl > 0 && ttl < interval {
		interval = ttl
	}
	go c.sweep(interval)
	return c
}

// CheckAndMark atomically reports whether key is already held and, if not,
// marks it. Returns true for a duplicate.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		if c.live(e) {
			return true
		}
		c.order.Remove(elem)
		delete(c.entries, key)
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, marked: c.now()})
	return false
}

// Contains reports whether key is currently held.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	return ok && c.live(elem.Value.(*entry))
}

// Release drops key so it can be marked again. Returns false if it was not held.
func (c *Cache) Release(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.entries, key)
	return true
}

// Len returns the number of held keys, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) live(e *entry) bool {
	return c.ttl <= 0 || c.now().Sub(e.marked) < c.ttl
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.entries, front.Value.(*entry).key)
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired walks from the oldest entry and stops at the first live one.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; {
		e := elem.Value.(*entry)
		if c.live(e) {
			return
		}
		next := elem.Next()
		c.order.Remove(elem)
		delete(c.entries, e.key)
		elem = next
	}
}
