package cache

import "time"

// RelegateReason explains why a payload moved to the durable tier.
type RelegateReason int

const (
	// RelegateCapacity: picked by the cleanup loop to bring used size under capacity.
	RelegateCapacity RelegateReason = iota
	// RelegateDisplaced: pushed out by a less evictable object being admitted.
	RelegateDisplaced
	// RelegateAdmission: the admitted object itself was the coldest and went straight to the store.
	RelegateAdmission
)

func (r RelegateReason) String() string {
	switch r {
	case RelegateCapacity:
		return "capacity"
	case RelegateDisplaced:
		return "displaced"
	case RelegateAdmission:
		return "admission"
	default:
		return "unknown"
	}
}

// Metrics exposes manager-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Admit()
	Relegate(reason RelegateReason)
	Restore(latency time.Duration)
	Purge()
	Size(resident int, used int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Admit()                        {}
func (NoopMetrics) Relegate(RelegateReason)       {}
func (NoopMetrics) Restore(time.Duration)         {}
func (NoopMetrics) Purge()                        {}
func (NoopMetrics) Size(resident int, used int64) {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
