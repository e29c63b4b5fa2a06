// ABOUTME: TTL-bounded seen-message cache used to suppress replays across reconnects.
// ABOUTME: A resumed connection may redeliver recent frames; seen ids are dropped once.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a mark time with its position in the eviction order.
type entry struct {
	markedAt time.Time
	elem     *list.Element
}

// Cache tracks message ids the client has already delivered. Sequence
// numbers do not survive a reconnect epoch, so replay suppression keys
// on message id with a TTL window. Size-capped with oldest-first
// eviction; safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys oldest-first
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache holding up to maxSize ids for ttl each. A
// background goroutine sweeps expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically reports whether id was already delivered and, if not,
// marks it as delivered now. Returns true for a replay the caller must
// drop.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[id]; ok && time.Since(e.markedAt) < c.ttl {
		return true
	}
	c.mark(id)
	return false
}

// mark records id as delivered. Must be called with mu held.
func (c *Cache) mark(id string) {
	now := time.Now()

	if e, ok := c.seen[id]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[id] = &entry{markedAt: now, elem: c.order.PushBack(id)}
}

// sweep periodically drops expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for id, e := range c.seen {
				if now.Sub(e.markedAt) > c.ttl {
					c.order.Remove(e.elem)
					delete(c.seen, id)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
