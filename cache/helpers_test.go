package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

type fakeClock struct{ t atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// mapStore is an in-package Store with failure injection.
type mapStore struct {
	mu sync.Mutex
	m  map[uuid.UUID][]byte

	stores    atomic.Int64
	retrieves atomic.Int64
	removes   atomic.Int64

	failStore    atomic.Bool
	failRetrieve atomic.Bool
	failRemove   atomic.Bool
}

func newMapStore() *mapStore { return &mapStore{m: make(map[uuid.UUID][]byte)} }

func (s *mapStore) Store(_ context.Context, key uuid.UUID, data []byte, _ time.Duration) error {
	if s.failStore.Load() {
		return errInjected
	}
	s.stores.Add(1)
	s.mu.Lock()
	s.m[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *mapStore) Retrieve(_ context.Context, key uuid.UUID) ([]byte, error) {
	if s.failRetrieve.Load() {
		return nil, errInjected
	}
	s.retrieves.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		return nil, fmt.Errorf("key %s: not found", key)
	}
	return b, nil
}

func (s *mapStore) Remove(_ context.Context, key uuid.UUID) error {
	if s.failRemove.Load() {
		return errInjected
	}
	s.removes.Add(1)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *mapStore) has(key uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

func (s *mapStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// fixedPredictor predicts a constant wait per flow.
type fixedPredictor struct {
	waits    map[string]time.Duration
	observed atomic.Int64
}

func (p *fixedPredictor) Predict(_ *Config, flowKey string, _ int64) time.Duration {
	return p.waits[flowKey]
}

func (p *fixedPredictor) Observe(*Config, string, int64, time.Duration) { p.observed.Add(1) }

// item is the test payload; its estimated size is carried explicitly.
type item struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type itemSer struct {
	failSerialize atomic.Bool
}

func (s *itemSer) EstimateSize(v *item) int64 { return v.Size }

func (s *itemSer) Serialize(v *item) ([]byte, error) {
	if s.failSerialize.Load() {
		return nil, errInjected
	}
	return json.Marshal(v)
}

func (s *itemSer) Deserialize(data []byte) (*item, error) {
	var v item
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

type env struct {
	m     *Manager
	store *mapStore
	pred  *fixedPredictor
	clock *fakeClock
	ser   *itemSer
}

func newEnv(t *testing.T, capacity int64, waits map[string]time.Duration) *env {
	t.Helper()
	e := &env{
		store: newMapStore(),
		pred:  &fixedPredictor{waits: waits},
		clock: &fakeClock{},
		ser:   &itemSer{},
	}
	e.clock.t.Store(time.Hour.Nanoseconds())
	m, err := New(Options{
		Config:    Config{Capacity: capacity, Shards: 2},
		Predictor: e.pred,
		Store:     e.store,
		Clock:     e.clock,
	})
	require.NoError(t, err)
	e.m = m
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return e
}

// put manages an item, opens one async handle and finishes setup.
func (e *env) put(t *testing.T, flow string, size int64) *AsyncHandle[*item] {
	t.Helper()
	h, err := e.putErr(t, flow, size)
	require.NoError(t, err)
	return h
}

func (e *env) putErr(t *testing.T, flow string, size int64) (*AsyncHandle[*item], error) {
	t.Helper()
	s := Manage(e.m, flow, &item{Name: flow, Size: size}, e.ser)
	require.NotNil(t, s)
	a, err := s.Async()
	require.NoError(t, err)
	return a, s.Close(context.Background())
}

func resident(h *AsyncHandle[*item]) bool { return h.o.state() == StateManaging }
