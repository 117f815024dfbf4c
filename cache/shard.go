package cache

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// peekDepth bounds how many heap entries peekCandidate inspects.
const peekDepth = 8

// candle is one eviction shard: a binary heap whose root is the most evictable
// object. Mutations happen only while the candle is taken out of the pool;
// mu protects items from concurrent peekers.
type candle struct {
	id int

	// ---- guarded by mu ----
	mu    sync.RWMutex
	items []*object
	bytes int64

	size atomic.Int32 // mirrors len(items) for the pool and stats

	// Precomputed slots for objects linked into this candle.
	slot   *slot
	queued *slot

	poolIndex int // position in the pool heap; -1 while taken
}

func newCandle(id, hint int) *candle {
	c := &candle{id: id, items: make([]*object, 0, hint), poolIndex: -1}
	c.slot = &slot{state: StateManaging, shard: c}
	c.queued = &slot{state: StateQueued, shard: c}
	return c
}

// ---- heap.Interface (mu held) ----

func (c *candle) Len() int           { return len(c.items) }
func (c *candle) Less(i, j int) bool { return moreEvictable(c.items[i], c.items[j]) }

func (c *candle) Swap(i, j int) {
	c.items[i], c.items[j] = c.items[j], c.items[i]
	c.items[i].index.Store(int32(i))
	c.items[j].index.Store(int32(j))
}

func (c *candle) Push(x any) {
	o := x.(*object)
	o.index.Store(int32(len(c.items)))
	c.items = append(c.items, o)
}

func (c *candle) Pop() any {
	n := len(c.items) - 1
	o := c.items[n]
	c.items[n] = nil
	c.items = c.items[:n]
	o.index.Store(-1)
	return o
}

// ---- shard operations (caller has taken the candle) ----

func (c *candle) push(o *object) {
	c.mu.Lock()
	heap.Push(c, o)
	c.bytes += o.size
	c.size.Store(int32(len(c.items)))
	c.mu.Unlock()
}

// locate returns the current heap position of o, or -1.
func (c *candle) locate(o *object) int {
	if i := int(o.index.Load()); i >= 0 && i < len(c.items) && c.items[i] == o {
		return i
	}
	for i, x := range c.items {
		if x == o {
			return i
		}
	}
	return -1
}

// remove unlinks o and reports whether it was present.
func (c *candle) remove(o *object) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.locate(o)
	if i < 0 {
		return false
	}
	heap.Remove(c, i)
	c.bytes -= o.size
	c.size.Store(int32(len(c.items)))
	return true
}

// fix restores heap order after o's hot time changed.
func (c *candle) fix(o *object) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.locate(o)
	if i < 0 {
		return false
	}
	heap.Fix(c, i)
	return true
}

// drain empties the candle and returns what it held.
func (c *candle) drain() []*object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	for _, o := range out {
		o.index.Store(-1)
	}
	c.items = make([]*object, 0)
	c.bytes = 0
	c.size.Store(0)
	return out
}

// ---- lock-free reads (candle may be in the pool) ----

// peekCandidate returns the most evictable entry that is currently eligible:
// unlocked, linked here, with a valid index. It never waits; nil means
// nothing eligible or the candle is being mutated.
func (c *candle) peekCandidate() *object {
	if !c.mu.TryRLock() {
		return nil
	}
	defer c.mu.RUnlock()
	n := min(len(c.items), peekDepth)
	for i := 0; i < n; i++ {
		o := c.items[i]
		if o.lock.locked() || o.index.Load() < 0 {
			continue
		}
		if s := o.slot.Load(); s.state != StateManaging || s.shard != c {
			continue
		}
		return o
	}
	return nil
}

// residentBytes is the sum of estimated sizes linked into the candle.
func (c *candle) residentBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

func (c *candle) len() int { return int(c.size.Load()) }
