package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manage hands v to m. The returned setup handle belongs to the creating
// flow; closing it finishes setup. Returns nil for a nil v or a closed m.
//
// Each call creates a new object with a fresh key, even for equal content.
func Manage[T any](m *Manager, flowKey string, v T, ser Serializer[T]) *SetupHandle[T] {
	if m == nil || m.closed.Load() || isNil(v) {
		return nil
	}
	o := newObject(flowKey, v, ser.EstimateSize(v), typedCodec[T]{ser}, m.now())
	return &SetupHandle[T]{m: m, o: o}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// SetupHandle is the creator's reference to a managed object.
type SetupHandle[T any] struct {
	m      *Manager
	o      *object
	closed atomic.Bool
}

// Key returns the object's unique key.
func (h *SetupHandle[T]) Key() uuid.UUID { return h.o.key }

// Value returns the payload for use by the setup flow. It is valid only until
// Close: afterwards the payload may have been relegated, and Value returns the
// zero T instead of restoring it. Consumers read through an AsyncHandle.
func (h *SetupHandle[T]) Value() T {
	r := h.o.lock.acquireRead()
	defer r.release()
	v, _ := h.o.payload.(T)
	return v
}

// Async opens a new async reference for a consumer flow.
func (h *SetupHandle[T]) Async() (*AsyncHandle[T], error) {
	return newAsync[T](h.m, h.o)
}

// Close finishes setup. If async references are open the object enters
// management; otherwise it is obsoleted right away. Only the first call has
// an effect.
func (h *SetupHandle[T]) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.o.setupDone.Store(true)
	if h.o.refs.Load() > 0 {
		return h.m.track(ctx, h.o)
	}
	h.m.removeFromManagement(ctx, h.o)
	return nil
}

// AsyncHandle is a consumer reference. Reads are transparent: the payload is
// restored from the store when it is not resident.
type AsyncHandle[T any] struct {
	m      *Manager
	o      *object
	closed atomic.Bool
}

func newAsync[T any](m *Manager, o *object) (*AsyncHandle[T], error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if !o.retain() {
		return nil, ErrObsoleted
	}
	return &AsyncHandle[T]{m: m, o: o}, nil
}

// Key returns the object's unique key.
func (h *AsyncHandle[T]) Key() uuid.UUID { return h.o.key }

// Async opens another async reference to the same object.
func (h *AsyncHandle[T]) Async() (*AsyncHandle[T], error) {
	return newAsync[T](h.m, h.o)
}

// Apply runs fn with the payload under a read lock. fn must not keep the
// payload past its return: it may be relegated afterwards. Apply on a closed
// handle returns ErrObsoleted.
func (h *AsyncHandle[T]) Apply(ctx context.Context, fn func(T) error) error {
	if h.closed.Load() {
		return ErrObsoleted
	}
	return h.m.access(ctx, h.o, func(v any) error { return fn(v.(T)) })
}

// Close drops the reference. The last close after setup obsoletes the object.
// Only the first call has an effect.
func (h *AsyncHandle[T]) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.o.unretain() && h.o.setupDone.Load() {
		h.m.removeFromManagement(ctx, h.o)
	}
	return nil
}

// Supply runs fn with h's payload and returns its result.
func Supply[T, R any](ctx context.Context, h *AsyncHandle[T], fn func(T) (R, error)) (R, error) {
	var r R
	err := h.Apply(ctx, func(v T) error {
		var err error
		r, err = fn(v)
		return err
	})
	return r, err
}

// access runs fn against o's payload, restoring it first when needed, and
// reschedules o afterwards. An error from fn is returned as is and does not
// prevent rescheduling.
func (m *Manager) access(ctx context.Context, o *object, fn func(any) error) error {
	if m.closed.Load() {
		return ErrClosed
	}
	loaded, err := m.read(ctx, o, fn)
	if !loaded {
		return err
	}
	if o.refs.Load() > 0 && o.setupDone.Load() {
		err = errors.Join(err, m.track(ctx, o))
	}
	return err
}

// read reports false when the payload could not be restored.
func (m *Manager) read(ctx context.Context, o *object, fn func(any) error) (bool, error) {
	r := o.lock.acquireRead()
	defer r.release()

	if o.payload == nil {
		r.upgrade()
		if o.payload == nil {
			if err := m.restoreLocked(ctx, o); err != nil {
				return false, err
			}
		}
		r.downgrade()
	}

	now := m.now()
	wait := time.Duration(now - o.start.Swap(now))
	m.pred.Observe(&m.cfg, o.flowKey, o.access.Add(1)-1, wait)
	return true, fn(o.payload)
}

func (m *Manager) restoreLocked(ctx context.Context, o *object) error {
	begin := m.now()
	data, err := m.store.Retrieve(ctx, o.key)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRetrieve, o.key, err)
	}
	v, err := o.codec.deserialize(data)
	if err != nil {
		return fmt.Errorf("%w: deserialize %s: %w", ErrCodec, o.key, err)
	}
	o.payload = v

	lat := time.Duration(m.now() - begin)
	m.metrics.Restore(lat)
	m.log.Debug().Stringer("key", o.key).Dur("latency", lat).Msg("restored")
	return nil
}
