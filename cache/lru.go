package cache

import (
	"bytes"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// sentinel is the arena slot that anchors the circular recency list.
// Its next is the most recently used entry, its prev the least recently used.
const sentinel int32 = 0

type node struct {
	key       string
	value     []byte
	createdAt time.Time
	prev      int32
	next      int32
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// ExpiringLRU is an in-memory CacheProvider.
// Nodes live in an arena and link to each other by slot index,
// so lookups go through the index and reordering never allocates.
type ExpiringLRU struct {
	mu         sync.Mutex
	clock      quartz.Clock
	capacity   int
	expiration time.Duration

	index map[string]int32
	nodes []node
	free  []int32
	stats Stats
}

// Option configures an ExpiringLRU or SQLiteCache.
type Option func(*options)

type options struct {
	clock quartz.Clock
}

// WithClock sets the clock used for entry creation times and expiry checks.
func WithClock(clock quartz.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewExpiringLRU creates a cache holding at most capacity entries,
// each of which expires expirationDays after it was stored.
func NewExpiringLRU(capacity int, expirationDays int64, opts ...Option) (*ExpiringLRU, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	window, err := expirationWindow(expirationDays)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	c := &ExpiringLRU{
		clock:      o.clock,
		capacity:   capacity,
		expiration: window,
		index:      make(map[string]int32, capacity),
		nodes:      make([]node, 1, capacity+1),
	}
	return c, nil
}

func (c *ExpiringLRU) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		return nil, false, nil
	}
	if isExpired(c.nodes[i].createdAt, c.clock.Now("cache", "get"), c.expiration) {
		c.remove(i)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false, nil
	}
	c.unlink(i)
	c.pushFront(i)
	c.stats.Hits++
	return bytes.Clone(c.nodes[i].value), true, nil
}

// Put never fails; the error is always nil.
func (c *ExpiringLRU) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[key]; ok {
		c.remove(i)
	}
	if len(c.index) >= c.capacity {
		// capacity pressure ignores expiry: the tail goes even if fresh
		c.remove(c.nodes[sentinel].prev)
		c.stats.Evictions++
	}
	i := c.alloc()
	c.nodes[i] = node{
		key:       key,
		value:     bytes.Clone(value),
		createdAt: c.clock.Now("cache", "put"),
	}
	c.index[key] = i
	c.pushFront(i)
	return nil
}

func (c *ExpiringLRU) Purge(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[key]; ok {
		c.remove(i)
	}
	return nil
}

func (c *ExpiringLRU) Keys() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.index))
	for i := c.nodes[sentinel].next; i != sentinel; i = c.nodes[i].next {
		keys = append(keys, c.nodes[i].key)
	}
	return keys, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *ExpiringLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Capacity returns the maximum number of entries.
func (c *ExpiringLRU) Capacity() int {
	return c.capacity
}

func (c *ExpiringLRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *ExpiringLRU) alloc() int32 {
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		return i
	}
	c.nodes = append(c.nodes, node{})
	return int32(len(c.nodes) - 1)
}

func (c *ExpiringLRU) remove(i int32) {
	c.unlink(i)
	delete(c.index, c.nodes[i].key)
	c.nodes[i] = node{}
	c.free = append(c.free, i)
}

func (c *ExpiringLRU) unlink(i int32) {
	prev, next := c.nodes[i].prev, c.nodes[i].next
	c.nodes[prev].next = next
	c.nodes[next].prev = prev
}

func (c *ExpiringLRU) pushFront(i int32) {
	head := c.nodes[sentinel].next
	c.nodes[i].prev = sentinel
	c.nodes[i].next = head
	c.nodes[head].prev = i
	c.nodes[sentinel].next = i
}
