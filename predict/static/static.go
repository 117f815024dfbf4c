// Package static provides a Predictor with fixed waits.
package static

import (
	"time"

	"github.com/IvanBrykalov/asyncmem/cache"
)

// Predictor predicts a constant wait per flow and learns nothing.
//
// Lookup order: Flows[flowKey], Default, the flow's configured DefaultWait,
// cache.DefaultWait. The result is capped at the flow's configured MaxWait.
type Predictor struct {
	Default time.Duration
	Flows   map[string]time.Duration
}

var _ cache.Predictor = Predictor{}

// Fixed predicts d for every flow.
func Fixed(d time.Duration) Predictor { return Predictor{Default: d} }

func (p Predictor) Predict(cfg *cache.Config, flowKey string, _ int64) time.Duration {
	f := cfg.Flow(flowKey)
	w, ok := p.Flows[flowKey]
	switch {
	case ok:
	case p.Default > 0:
		w = p.Default
	case f.DefaultWait > 0:
		w = f.DefaultWait
	default:
		w = cache.DefaultWait
	}
	return Clamp(f, w)
}

func (Predictor) Observe(*cache.Config, string, int64, time.Duration) {}

// Clamp bounds w to [0, f.MaxWait] (no upper bound when MaxWait is 0).
func Clamp(f cache.FlowConfig, w time.Duration) time.Duration {
	w = max(w, 0)
	if f.MaxWait > 0 {
		w = min(w, f.MaxWait)
	}
	return w
}
