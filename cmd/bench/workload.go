package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/codec/jsoncodec"
)

// record is the benchmark payload.
type record struct {
	Seq  int64  `json:"seq"`
	Flow string `json:"flow"`
	Data []byte `json:"data"`
}

var recordCodec = jsoncodec.WithSize(func(r *record) int64 { return int64(len(r.Data)) + 64 })

type workload struct {
	workers int
	live    int
	readPct int
	payload int
	flows   int
	seed    int64
}

type result struct {
	elapsed time.Duration
	created atomic.Int64
	reads   atomic.Int64
	errs    atomic.Int64
}

// run drives m until ctx is done. Each worker keeps a ring of live handles:
// a write replaces the oldest handle with a fresh object, a read applies a
// random live handle.
func (w workload) run(ctx context.Context, m *cache.Manager) (*result, error) {
	res := &result{}
	start := time.Now()

	var g errgroup.Group
	for id := range w.workers {
		g.Go(func() error { return w.worker(ctx, m, id, res) })
	}
	err := g.Wait()
	res.elapsed = time.Since(start)
	return res, err
}

func (w workload) worker(ctx context.Context, m *cache.Manager, id int, res *result) error {
	// rand.Rand is not goroutine-safe: one per worker.
	r := rand.New(rand.NewSource(w.seed + int64(id)*9973))
	ring := make([]*cache.AsyncHandle[*record], 0, w.live)
	next := 0
	defer func() {
		for _, h := range ring {
			_ = h.Close(context.Background())
		}
	}()

	for ctx.Err() == nil {
		if len(ring) > 0 && r.Intn(100) < w.readPct {
			h := ring[r.Intn(len(ring))]
			err := h.Apply(ctx, func(rec *record) error {
				if len(rec.Data) != w.payload {
					return fmt.Errorf("record %d: payload %d bytes, want %d", rec.Seq, len(rec.Data), w.payload)
				}
				return nil
			})
			res.reads.Add(1)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				res.errs.Add(1)
			}
			continue
		}

		h, err := w.create(ctx, m, r, res.created.Add(1))
		if errors.Is(err, cache.ErrClosed) {
			return nil
		}
		if err != nil {
			res.errs.Add(1)
		}
		if h == nil {
			continue
		}
		if len(ring) < w.live {
			ring = append(ring, h)
			continue
		}
		_ = ring[next].Close(ctx)
		ring[next] = h
		next = (next + 1) % w.live
	}
	return nil
}

func (w workload) create(ctx context.Context, m *cache.Manager, r *rand.Rand, seq int64) (*cache.AsyncHandle[*record], error) {
	rec := &record{
		Seq:  seq,
		Flow: "flow-" + strconv.Itoa(r.Intn(w.flows)),
		Data: make([]byte, w.payload),
	}
	r.Read(rec.Data)

	setup := cache.Manage(m, rec.Flow, rec, recordCodec)
	if setup == nil {
		return nil, cache.ErrClosed
	}
	h, err := setup.Async()
	if err != nil {
		_ = setup.Close(ctx)
		return nil, err
	}
	// A failed admission leaves h readable; the error is only counted.
	return h, setup.Close(ctx)
}

func (r *result) print(out io.Writer, s cache.Stats) {
	created, reads := r.created.Load(), r.reads.Load()
	ops := created + reads
	fmt.Fprintf(out, "ops=%d (%.0f ops/s)  created=%d  reads=%d  errors=%d  dur=%v\n",
		ops, float64(ops)/r.elapsed.Seconds(), created, reads, r.errs.Load(), r.elapsed)
	fmt.Fprintf(out, "%s  resident_bytes=%d  shards=%v\n", s, s.ResidentBytes, s.Shards)
}
