package cache

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var waits = map[string]time.Duration{
	"fast":   10 * time.Millisecond,
	"medium": 100 * time.Millisecond,
	"slow":   1000 * time.Millisecond,
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Config: Config{Capacity: 0}, Store: newMapStore()})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Options{Config: Config{Capacity: 10}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Options{Config: Config{Capacity: 10, Flows: map[string]FlowConfig{"x": {MaxWait: -1}}}, Store: newMapStore()})
	require.ErrorIs(t, err, ErrInvalidConfig)

	m, err := New(Options{Config: Config{Capacity: 10}, Store: newMapStore()})
	require.NoError(t, err)
	assert.Positive(t, m.Config().Shards)
	require.NoError(t, m.Close(context.Background()))
}

func TestManage_NilPayload(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 100, waits)

	assert.Nil(t, Manage[*item](e.m, "fast", nil, e.ser))
	assert.Nil(t, Manage[*item](nil, "fast", &item{}, e.ser))
}

// The object predicted furthest in the future leaves memory first.
func TestManager_EvictionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("newcomer is coldest", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, 200, waits)

		a := e.put(t, "fast", 100)
		b := e.put(t, "medium", 100)
		c := e.put(t, "slow", 100)

		assert.True(t, resident(a))
		assert.True(t, resident(b))
		assert.False(t, resident(c))
		assert.True(t, e.store.has(c.Key()))
		assert.False(t, e.store.has(a.Key()))
		assert.False(t, e.store.has(b.Key()))

		st := e.m.Stats()
		assert.Equal(t, int64(200), st.Used)
		assert.Equal(t, 2, st.Resident)

		name, err := Supply(ctx, c, func(v *item) (string, error) { return v.Name, nil })
		require.NoError(t, err)
		assert.Equal(t, "slow", name)
		assert.Equal(t, int64(1), e.store.retrieves.Load())
		// Still the coldest, so it goes straight back.
		assert.False(t, resident(c))
		assert.Equal(t, int64(2), e.store.stores.Load())
	})

	t.Run("resident is coldest", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, 200, waits)

		c := e.put(t, "slow", 100)
		b := e.put(t, "medium", 100)
		a := e.put(t, "fast", 100)

		assert.True(t, resident(a))
		assert.True(t, resident(b))
		assert.False(t, resident(c))
		assert.True(t, e.store.has(c.Key()))
		assert.Equal(t, int64(1), e.store.stores.Load())
	})

	t.Run("cleanup relegates until under capacity", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, 200, map[string]time.Duration{"x": 500 * time.Millisecond, "y": 100 * time.Millisecond, "z": 10 * time.Millisecond})

		x := e.put(t, "x", 50)
		y := e.put(t, "y", 150)
		z := e.put(t, "z", 100)

		assert.False(t, resident(x))
		assert.False(t, resident(y))
		assert.True(t, resident(z))
		assert.Equal(t, int64(100), e.m.Stats().Used)
	})
}

func TestManager_OversizeAdmission(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 100, waits)

	done := make(chan struct{})
	var a, b *AsyncHandle[*item]
	go func() {
		defer close(done)
		a = e.put(t, "slow", 100)
		b = e.put(t, "fast", 100)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("admission did not finish")
	}

	assert.False(t, resident(a))
	assert.True(t, resident(b))
	assert.True(t, e.store.has(a.Key()))
	assert.Equal(t, int64(100), e.m.Stats().Used)

	// Larger than capacity on its own: persisted right away.
	big := e.put(t, "fast", 300)
	assert.False(t, resident(big))
	assert.True(t, e.store.has(big.Key()))
	assert.Equal(t, int64(100), e.m.Stats().Used)
}

func TestSetupClose_ZeroAsyncPurges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	v := &item{Name: "same", Size: 10}
	s := Manage(e.m, "fast", v, e.ser)
	require.NotNil(t, s)
	assert.Equal(t, "same", s.Value().Name)
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, StateObsoleted, s.o.state())
	assert.Zero(t, e.store.stores.Load())
	_, err := s.Async()
	require.ErrorIs(t, err, ErrObsoleted)

	s2 := Manage(e.m, "fast", v, e.ser)
	require.NotNil(t, s2)
	assert.NotEqual(t, s.Key(), s2.Key())
	require.NoError(t, s2.Close(ctx))
}

func TestManager_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	a := e.put(t, "slow", 100)
	b := e.put(t, "fast", 100) // displaces a
	require.Nil(t, a.o.payload)
	require.True(t, e.store.has(a.Key()))

	var seen int
	for range 3 {
		require.NoError(t, a.Apply(ctx, func(v *item) error {
			seen++
			assert.Equal(t, "slow", v.Name)
			assert.Equal(t, int64(100), v.Size)
			return nil
		}))
	}
	assert.Equal(t, 3, seen)
	assert.Equal(t, int64(3), a.o.access.Load())
	assert.Equal(t, int64(3), e.pred.observed.Load())
	require.NoError(t, b.Close(ctx))
	require.NoError(t, a.Close(ctx))
	assert.Zero(t, e.store.len())
}

func TestManager_HotTimeFollowsAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 1000, waits)

	a := e.put(t, "medium", 10)
	start := e.clock.NowUnixNano()
	assert.Equal(t, start+int64(100*time.Millisecond), a.o.hot.Load())

	e.clock.add(5 * time.Second)
	require.NoError(t, a.Apply(ctx, func(*item) error { return nil }))
	assert.Equal(t, e.clock.NowUnixNano(), a.o.start.Load())
	assert.Equal(t, e.clock.NowUnixNano()+int64(100*time.Millisecond), a.o.hot.Load())
	assert.True(t, resident(a))
}

func TestManager_StoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	a := e.put(t, "slow", 100)
	e.store.failStore.Store(true)

	b, err := e.putErr(t, "fast", 100)
	require.ErrorIs(t, err, ErrPersist)
	require.ErrorIs(t, err, errInjected)
	assert.True(t, resident(b))

	// a left its candle but kept the payload.
	assert.False(t, resident(a))
	assert.NotNil(t, a.o.payload)
	assert.False(t, a.o.durable.Load())

	e.store.failStore.Store(false)
	require.NoError(t, a.Apply(ctx, func(v *item) error {
		assert.Equal(t, "slow", v.Name)
		return nil
	}))
	assert.Zero(t, e.store.retrieves.Load())
}

func TestManager_RetrieveFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	a := e.put(t, "slow", 100)
	_ = e.put(t, "fast", 100)
	require.True(t, e.store.has(a.Key()))

	e.store.failRetrieve.Store(true)
	called := false
	err := a.Apply(ctx, func(*item) error { called = true; return nil })
	require.ErrorIs(t, err, ErrRetrieve)
	assert.False(t, called)
	assert.Nil(t, a.o.payload)
	assert.Equal(t, StateNone, a.o.state())

	e.store.failRetrieve.Store(false)
	require.NoError(t, a.Apply(ctx, func(v *item) error {
		assert.Equal(t, "slow", v.Name)
		return nil
	}))
}

func TestManager_SerializeFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 100, waits)

	a := e.put(t, "slow", 100)
	e.ser.failSerialize.Store(true)
	_, err := e.putErr(t, "fast", 100)
	require.ErrorIs(t, err, ErrCodec)
	assert.NotNil(t, a.o.payload)
	assert.Zero(t, e.store.stores.Load())
}

func TestManager_ObsoletedIsPurged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	a := e.put(t, "slow", 100)
	b := e.put(t, "fast", 100)
	require.True(t, e.store.has(a.Key()))

	a2, err := a.Async()
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
	assert.True(t, e.store.has(a.Key()), "still referenced by a2")

	require.NoError(t, a2.Close(ctx))
	assert.Equal(t, StateObsoleted, a.o.state())
	assert.False(t, e.store.has(a.Key()))
	assert.False(t, a.o.durable.Load())

	require.NoError(t, b.Close(ctx))
	assert.Equal(t, StateObsoleted, b.o.state())
	st := e.m.Stats()
	assert.Zero(t, st.Used)
	assert.Zero(t, st.Resident)
	assert.Zero(t, e.store.len())

	_, err = a2.Async()
	require.ErrorIs(t, err, ErrObsoleted)
	require.ErrorIs(t, a2.Apply(ctx, func(*item) error { return nil }), ErrObsoleted)
}

func TestManager_PurgeFailureIsBestEffort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	a := e.put(t, "slow", 100)
	_ = e.put(t, "fast", 100)
	e.store.failRemove.Store(true)

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, StateObsoleted, a.o.state())
	assert.True(t, e.store.has(a.Key()))
}

func TestAsyncHandle_CloseIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	s := Manage(e.m, "fast", &item{Size: 1}, e.ser)
	a1, err := s.Async()
	require.NoError(t, err)
	a2, err := a1.Async()
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	require.NoError(t, a1.Close(ctx))
	require.NoError(t, a1.Close(ctx))
	assert.Equal(t, int64(1), s.o.refs.Load())
	assert.Equal(t, StateManaging, s.o.state())

	require.NoError(t, a2.Close(ctx))
	assert.Zero(t, s.o.refs.Load())
	assert.Equal(t, StateObsoleted, s.o.state())
}

func TestSupply_PropagatesCallbackError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	a := e.put(t, "fast", 10)
	n, err := Supply(ctx, a, func(v *item) (int64, error) { return v.Size, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	_, err = Supply(ctx, a, func(*item) (int64, error) { return 0, errInjected })
	require.ErrorIs(t, err, errInjected)
	// The access still counts.
	assert.Equal(t, int64(2), a.o.access.Load())
	assert.True(t, resident(a))
}

func TestManager_Close(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)

	a := e.put(t, "slow", 100)
	b := e.put(t, "fast", 100)
	require.True(t, e.store.has(a.Key()))
	require.NoError(t, b.Close(ctx))

	// Restored and resident again; the durable copy is still there.
	require.NoError(t, a.Apply(ctx, func(*item) error { return nil }))
	require.True(t, resident(a))
	require.True(t, e.store.has(a.Key()))

	require.NoError(t, e.m.Close(ctx))
	require.NoError(t, e.m.Close(ctx))

	st := e.m.Stats()
	assert.Zero(t, st.Used)
	assert.Zero(t, st.Resident)
	assert.False(t, e.store.has(a.Key()))
	assert.Equal(t, StateNone, a.o.state())

	assert.Nil(t, Manage(e.m, "fast", &item{Size: 1}, e.ser))
	require.ErrorIs(t, a.Apply(ctx, func(*item) error { return nil }), ErrClosed)
	_, err := a.Async()
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, a.Close(ctx))
}

func TestStats_String(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1000, waits)

	_ = e.put(t, "fast", 100)
	_ = e.put(t, "slow", 50)
	st := e.m.Stats()
	assert.Equal(t, "Used:150 Items:2", st.String())
	assert.Equal(t, int64(150), st.ResidentBytes)
	assert.Len(t, st.Shards, 2)
	// Least occupied candle first: one object each.
	assert.Equal(t, []int{1, 1}, st.Shards)
}

type countingMetrics struct {
	admits, restores, purges atomic.Int64
	relegations              [3]atomic.Int64
	lastUsed                 atomic.Int64
}

func (c *countingMetrics) Admit()                    { c.admits.Add(1) }
func (c *countingMetrics) Relegate(r RelegateReason) { c.relegations[r].Add(1) }
func (c *countingMetrics) Restore(time.Duration)     { c.restores.Add(1) }
func (c *countingMetrics) Purge()                    { c.purges.Add(1) }
func (c *countingMetrics) Size(_ int, used int64)    { c.lastUsed.Store(used) }

func TestManager_MetricsAndLogging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	met := &countingMetrics{}
	store := newMapStore()
	m, err := New(Options{
		Config:    Config{Capacity: 100, Shards: 1},
		Predictor: &fixedPredictor{waits: waits},
		Store:     store,
		Metrics:   met,
		Logger:    &log,
		Clock:     &fakeClock{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(ctx) })

	ser := &itemSer{}
	mk := func(flow string, size int64) *AsyncHandle[*item] {
		s := Manage(m, flow, &item{Name: flow, Size: size}, ser)
		a, err := s.Async()
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))
		return a
	}
	a := mk("slow", 100)
	b := mk("fast", 100) // displaces a
	_ = mk("slow", 100)  // coldest on admission
	require.NoError(t, a.Apply(ctx, func(*item) error { return nil }))
	require.NoError(t, b.Close(ctx))

	assert.Equal(t, int64(2), met.admits.Load())
	assert.Equal(t, int64(1), met.relegations[RelegateDisplaced].Load())
	assert.Equal(t, int64(2), met.relegations[RelegateAdmission].Load())
	assert.Equal(t, int64(1), met.restores.Load())
	assert.Equal(t, int64(1), met.purges.Load())
	assert.Zero(t, met.lastUsed.Load())

	out := buf.String()
	assert.Contains(t, out, `"component":"asyncmem"`)
	assert.Contains(t, out, `"reason":"displaced"`)
	assert.Contains(t, out, "restored")
}

func TestFlowDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{Flows: map[string]FlowConfig{
		"*":      {DefaultWait: 2 * time.Second},
		"capped": {DefaultWait: time.Minute, MaxWait: time.Second},
	}}
	p := flowDefaults{}
	assert.Equal(t, 2*time.Second, p.Predict(cfg, "unknown", 0))
	assert.Equal(t, time.Second, p.Predict(cfg, "capped", 3))
	assert.Equal(t, DefaultWait, p.Predict(&Config{}, "x", 0))
}

// A reference opened while setup close saw none must not leave the object
// outside every candle.
func TestSetupClose_ReferenceOpenedDuringClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 1000, waits)

	s := Manage(e.m, "fast", &item{Name: "fast", Size: 10}, e.ser)
	a, err := s.Async()
	require.NoError(t, err)

	// Replay Close after its zero-reference check lost the race with Async.
	require.True(t, s.closed.CompareAndSwap(false, true))
	s.o.setupDone.Store(true)
	e.m.removeFromManagement(ctx, s.o)

	assert.True(t, resident(a))
	assert.Equal(t, int64(10), e.m.Stats().Used)
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, StateObsoleted, a.o.state())
	assert.Zero(t, e.m.Stats().Used)
}

func TestSetupHandle_ValueOnlyBeforeClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 100, waits)
	_ = e.put(t, "fast", 100)

	s := Manage(e.m, "slow", &item{Name: "slow", Size: 100}, e.ser)
	a, err := s.Async()
	require.NoError(t, err)
	require.NotNil(t, s.Value())
	assert.Equal(t, "slow", s.Value().Name)

	// Colder than the resident: persisted on admission.
	require.NoError(t, s.Close(ctx))
	require.False(t, resident(a))
	assert.Nil(t, s.Value())

	name, err := Supply(ctx, a, func(v *item) (string, error) { return v.Name, nil })
	require.NoError(t, err)
	assert.Equal(t, "slow", name)
}

func checkHeapOrder(t *testing.T, c *candle) {
	t.Helper()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := 1; i < len(c.items); i++ {
		parent := (i - 1) / 2
		require.False(t, moreEvictable(c.items[i], c.items[parent]),
			"candle %d: item %d ranks above its parent %d", c.id, i, parent)
	}
}

// Re-keying residents on access keeps every candle a valid heap.
func TestManager_AccessKeepsHeapOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, 10_000, waits)

	flows := []string{"fast", "medium", "slow"}
	var hs []*AsyncHandle[*item]
	for i := range 12 {
		hs = append(hs, e.put(t, flows[i%len(flows)], 10))
	}
	for i := range 40 {
		e.clock.add(time.Duration(i%7) * 30 * time.Millisecond)
		require.NoError(t, hs[(i*5)%len(hs)].Apply(ctx, func(*item) error { return nil }))
		for _, c := range e.m.pool.all {
			checkHeapOrder(t, c)
		}
	}
	for _, h := range hs {
		assert.True(t, resident(h))
		require.NoError(t, h.Close(ctx))
	}
}
