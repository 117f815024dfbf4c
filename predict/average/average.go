// Package average provides a Predictor that learns from observed waits.
//
// Waits are averaged per (flow, access count) bucket with an exponentially
// weighted moving average, so an object's n-th access is predicted from what
// n-th accesses of the same flow took before. Access counts at or above
// Options.MaxAccess share one bucket. Buckets live in a bounded LRU; an
// unseen bucket falls back to the flow's static prediction.
package average

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/predict/static"
)

// Options configures a Predictor. Zero values are safe;
// defaults are applied in New():
//   - Alpha == 0     => 0.3
//   - MaxAccess == 0 => 8
//   - Size == 0      => 4096 buckets
type Options struct {
	// Alpha is the weight of the newest observation, in (0, 1].
	Alpha float64
	// MaxAccess caps the access-count part of the bucket key.
	MaxAccess int64
	// Size bounds the number of buckets kept.
	Size int
	// Fallback predicts unseen buckets.
	Fallback static.Predictor
}

type bucket struct {
	flow string
	n    int64
}

type entry struct {
	mu   sync.Mutex
	ewma float64 // nanoseconds
}

// Predictor is safe for concurrent use.
type Predictor struct {
	opt     Options
	buckets *lru.Cache[bucket, *entry]
}

var _ cache.Predictor = (*Predictor)(nil)

// ErrInvalidAlpha is returned by New for an Alpha outside (0, 1].
var ErrInvalidAlpha = errors.New("average: alpha must be in (0, 1]")

// New constructs a Predictor.
func New(opt Options) (*Predictor, error) {
	if opt.Alpha == 0 {
		opt.Alpha = 0.3
	}
	if opt.Alpha < 0 || opt.Alpha > 1 {
		return nil, ErrInvalidAlpha
	}
	if opt.MaxAccess <= 0 {
		opt.MaxAccess = 8
	}
	if opt.Size <= 0 {
		opt.Size = 4096
	}
	c, err := lru.New[bucket, *entry](opt.Size)
	if err != nil {
		return nil, err
	}
	return &Predictor{opt: opt, buckets: c}, nil
}

func (p *Predictor) key(flow string, n int64) bucket {
	return bucket{flow: flow, n: min(max(n, 0), p.opt.MaxAccess)}
}

func (p *Predictor) Predict(cfg *cache.Config, flowKey string, accessCount int64) time.Duration {
	e, ok := p.buckets.Get(p.key(flowKey, accessCount))
	if !ok {
		return p.opt.Fallback.Predict(cfg, flowKey, accessCount)
	}
	e.mu.Lock()
	w := time.Duration(e.ewma)
	e.mu.Unlock()
	return static.Clamp(cfg.Flow(flowKey), w)
}

func (p *Predictor) Observe(_ *cache.Config, flowKey string, accessCount int64, wait time.Duration) {
	fresh := &entry{ewma: float64(wait)}
	prev, found, _ := p.buckets.PeekOrAdd(p.key(flowKey, accessCount), fresh)
	if !found {
		return
	}
	prev.mu.Lock()
	prev.ewma += p.opt.Alpha * (float64(wait) - prev.ewma)
	prev.mu.Unlock()
}

// Len returns the number of buckets currently tracked.
func (p *Predictor) Len() int { return p.buckets.Len() }
