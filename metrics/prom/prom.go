// Package prom exports cache.Metrics as Prometheus collectors.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/asyncmem/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	admits    prometheus.Counter
	relegates *prometheus.CounterVec
	restores  prometheus.Histogram
	purges    prometheus.Counter
	resident  prometheus.Gauge
	used      prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		admits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "admitted_total",
			Help:        "Objects linked into a candle",
			ConstLabels: constLabels,
		}),
		relegates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "relegations_total",
				Help:        "Payloads written to the durable store, by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		restores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "restore_duration_seconds",
			Help:        "Time to restore a payload from the durable store",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 8),
			ConstLabels: constLabels,
		}),
		purges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "purges_total",
			Help:        "Obsoleted objects removed from management",
			ConstLabels: constLabels,
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "resident_objects",
			Help:        "Number of objects resident in memory",
			ConstLabels: constLabels,
		}),
		used: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "used_bytes",
			Help:        "Estimated size of resident payloads",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.admits, a.relegates, a.restores, a.purges, a.resident, a.used)
	return a
}

// Admit increments the admission counter.
func (a *Adapter) Admit() { a.admits.Inc() }

// Relegate increments the relegation counter with a reason label.
func (a *Adapter) Relegate(r cache.RelegateReason) {
	a.relegates.WithLabelValues(r.String()).Inc()
}

// Restore observes one restore latency.
func (a *Adapter) Restore(latency time.Duration) { a.restores.Observe(latency.Seconds()) }

// Purge increments the purge counter.
func (a *Adapter) Purge() { a.purges.Inc() }

// Size updates gauges for the resident count and used bytes.
func (a *Adapter) Size(resident int, used int64) {
	a.resident.Set(float64(resident))
	a.used.Set(float64(used))
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
