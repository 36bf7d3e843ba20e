// Package workingset implements the small, recency-ordered cache of
// currently attended record ids. It is an input signal for retrieval,
// never a source of record data.
package workingset

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/lexlapax/engram/pkg/log"
)

// Defaults for a working set modeled on short-term memory span.
const (
	DefaultCapacity  = 9
	DefaultRetention = 10 * time.Minute
)

// Entry is an attended id and when it (last) entered the working set.
type Entry struct {
	ID        string    `json:"id"`
	EnteredAt time.Time `json:"entered_at"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity overrides DefaultCapacity. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithRetention overrides DefaultRetention. Zero disables age-based sweeping.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) { c.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is a bounded working set ordered oldest to newest by entry time.
type Cache struct {
	mu        sync.Mutex
	order     *list.List
	items     map[string]*list.Element
	capacity  int
	retention time.Duration
	now       func() time.Time
}

// New creates an empty working set.
func New(opts ...Option) *Cache {
	c := &Cache{
		order:     list.New(),
		items:     make(map[string]*list.Element),
		capacity:  DefaultCapacity,
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add inserts id as the newest entry. An id already present is refreshed
// and moved to the newest position rather than duplicated. When a new id
// arrives at capacity the oldest entry is evicted first and returned.
func (c *Cache) Add(id string) (evicted string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, exists := c.items[id]; exists {
		el.Value.(*Entry).EnteredAt = now
		c.order.MoveToBack(el)
		return "", false
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		e := oldest.Value.(*Entry)
		c.order.Remove(oldest)
		delete(c.items, e.ID)
		evicted, ok = e.ID, true
	}

	c.items[id] = c.order.PushBack(&Entry{ID: id, EnteredAt: now})
	return evicted, ok
}

// Remove drops id. It reports whether id was present.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[id]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, id)
	return true
}

// Contains reports whether id is in the working set.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Entries returns a snapshot ordered oldest to newest.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}

// IDs returns the attended ids ordered oldest to newest.
func (c *Cache) IDs() []string {
	entries := c.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Retention returns how long an entry survives without being refreshed.
func (c *Cache) Retention() time.Duration {
	return c.retention
}

// Clear empties the working set.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Sweep evicts every entry that entered before now minus the retention
// window and returns how many were dropped.
func (c *Cache) Sweep(now time.Time) int {
	if c.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-c.retention)

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*Entry)
		if !e.EnteredAt.Before(cutoff) {
			// Entries are ordered by entry time; the rest are younger.
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.items, e.ID)
		n++
		el = next
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				log.DebugContext(ctx, "Swept working set", "evicted", n, "remaining", c.Len())
			}
		}
	}
}
