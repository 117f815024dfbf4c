// Package cache provides a tiered, prediction-driven object manager: payloads
// whose next access is predicted soon stay in memory, the rest are relegated
// to a pluggable durable Store and restored transparently on the next read.
//
// Design
//
//   - Lifecycle: Manage wraps a payload and returns a SetupHandle owned by the
//     creating flow. Consumers open AsyncHandles from it. Once setup is closed
//     and the last async handle is closed, the object is obsoleted: it leaves
//     memory and its durable copy is removed. Objects are never reused.
//
//   - Prediction: a Predictor estimates the wait until the next access from the
//     flow key and the access count, and learns from the waits it observes.
//     hot time = last access + predicted wait.
//
//   - Candles: resident objects live in shards ("candles"), each a binary heap
//     whose root is the most evictable object (obsoleted first, then the one
//     with the latest hot time). Candles are handed out by a pool, least
//     occupied first; holding a candle is the per-shard critical section.
//
//   - Capacity: Config.Capacity is a soft bound on the summed estimated size
//     of resident payloads. Admission over capacity displaces the coldest
//     resident, or relegates the new object right away when it is the colder
//     one. A cleanup loop then relegates until the bound holds.
//
//   - Concurrency: each object has a spin-based read/manage lock. Reads share
//     it; the first read after relegation upgrades to restore the payload.
//     State changes go through a single compare-and-swap gate so at most one
//     runs per object. No goroutines are started and no call parks on a
//     queue; contention is resolved by retrying with runtime.Gosched.
//
//   - Metrics: Options.Metrics receives Admit/Relegate/Restore/Purge/Size
//     signals. By default NoopMetrics is used; see package metrics/prom.
//
// Basic usage
//
//	m, err := cache.New(cache.Options{
//	    Config: cache.Config{Capacity: 64 << 20},
//	    Store:  memstore.New(),
//	})
//	if err != nil { ... }
//	defer m.Close(ctx)
//
//	setup := cache.Manage(m, "orders", order, jsoncodec.New[*Order]())
//	h, _ := setup.Async()
//	_ = setup.Close(ctx)
//
//	// later, possibly on another goroutine
//	total, err := cache.Supply(ctx, h, func(o *Order) (int64, error) { return o.Total, nil })
//	_ = h.Close(ctx)
//
// Errors from the Store surface on the call that triggered them, wrapped in
// ErrPersist or ErrRetrieve. Lost races never surface as errors.
package cache
