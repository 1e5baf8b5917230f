package transport

import (
	"sort"
	"sync"
)

// Cache builds each handle at most once per id and hands the same value to
// every caller. A failed build is returned and not cached.
type Cache[T any] struct {
	mu     sync.Mutex
	items  map[string]T
	closed bool
}

func (c *Cache[T]) Get(id string, build func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if c.closed {
		return zero, ErrClosed
	}
	if item, ok := c.items[id]; ok {
		return item, nil
	}
	item, err := build()
	if err != nil {
		return zero, err
	}
	if c.items == nil {
		c.items = make(map[string]T)
	}
	c.items[id] = item
	return item, nil
}

func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// IDs returns the cached ids in sorted order.
func (c *Cache[T]) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.items))
	for id := range c.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Values returns the cached handles without removing them.
func (c *Cache[T]) Values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	return out
}

// Evict empties the cache and returns what was held. Later calls build again.
func (c *Cache[T]) Evict() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked()
}

// Drain empties the cache, refuses later builds and returns what was held.
func (c *Cache[T]) Drain() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.takeLocked()
}

func (c *Cache[T]) takeLocked() []T {
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	c.items = nil
	return out
}

// Lazy is a single-slot Cache.
type Lazy[T any] struct {
	cache Cache[T]
}

func (l *Lazy[T]) Get(build func() (T, error)) (T, error) {
	return l.cache.Get("", build)
}

func (l *Lazy[T]) Drain() []T {
	return l.cache.Drain()
}
