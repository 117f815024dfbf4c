package cache

import (
	"container/heap"
	"runtime"
	"sync"
)

// pool hands out candles one at a time, least occupied first. A candle that is
// out of the pool is owned exclusively by its taker.
type pool struct {
	mu   sync.Mutex
	idle candleHeap

	all []*candle
}

func newPool(shards, initialSize int) *pool {
	hint := 0
	if initialSize > 0 {
		hint = (initialSize + shards - 1) / shards
	}
	p := &pool{all: make([]*candle, shards), idle: make(candleHeap, 0, shards)}
	for i := range p.all {
		c := newCandle(i, hint)
		p.all[i] = c
		heap.Push(&p.idle, c)
	}
	return p
}

// take removes the least occupied idle candle, spinning while all are taken.
func (p *pool) take() *candle {
	for {
		p.mu.Lock()
		if len(p.idle) > 0 {
			c := heap.Pop(&p.idle).(*candle)
			p.mu.Unlock()
			return c
		}
		p.mu.Unlock()
		runtime.Gosched()
	}
}

// takeSpecific removes c from the pool, spinning until it is idle.
func (p *pool) takeSpecific(c *candle) {
	for {
		p.mu.Lock()
		if c.poolIndex >= 0 {
			heap.Remove(&p.idle, c.poolIndex)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		runtime.Gosched()
	}
}

// put returns a taken candle.
func (p *pool) put(c *candle) {
	p.mu.Lock()
	heap.Push(&p.idle, c)
	p.mu.Unlock()
}

// candleHeap is a min-heap of candles by occupancy.
type candleHeap []*candle

func (h candleHeap) Len() int           { return len(h) }
func (h candleHeap) Less(i, j int) bool { return h[i].len() < h[j].len() }

func (h candleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].poolIndex = i
	h[j].poolIndex = j
}

func (h *candleHeap) Push(x any) {
	c := x.(*candle)
	c.poolIndex = len(*h)
	*h = append(*h, c)
}

func (h *candleHeap) Pop() any {
	old := *h
	n := len(old) - 1
	c := old[n]
	old[n] = nil
	c.poolIndex = -1
	*h = old[:n]
	return c
}
