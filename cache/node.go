package cache

import (
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
)

// codec is the type-erased view of a Serializer used by the engine.
type codec interface {
	serialize(v any) ([]byte, error)
	deserialize(data []byte) (any, error)
}

type typedCodec[T any] struct{ s Serializer[T] }

func (c typedCodec[T]) serialize(v any) ([]byte, error) { return c.s.Serialize(v.(T)) }

func (c typedCodec[T]) deserialize(data []byte) (any, error) { return c.s.Deserialize(data) }

// object is a managed object. Timestamps are UnixNano.
//
// payload is read under a read hold and written only under the manage hold
// (or before the object becomes visible to other goroutines).
type object struct {
	key     uuid.UUID
	flowKey string
	size    int64
	codec   codec

	payload any
	durable atomic.Bool

	start  atomic.Int64 // last access
	hot    atomic.Int64 // predicted next access
	access atomic.Int64

	setupDone atomic.Bool
	refs      atomic.Int64

	slot  atomic.Pointer[slot]
	index atomic.Int32

	lock objectLock
}

func newObject(flowKey string, payload any, size int64, c codec, now int64) *object {
	o := &object{
		key:     uuid.New(),
		flowKey: flowKey,
		size:    size,
		codec:   c,
		payload: payload,
	}
	o.start.Store(now)
	o.hot.Store(now)
	o.slot.Store(noneSlot)
	o.index.Store(-1)
	return o
}

// obsoleted reports whether no reference can observe the object anymore.
func (o *object) obsoleted() bool {
	return o.setupDone.Load() && o.refs.Load() == 0
}

// retain adds one async reference. It refuses once the object is obsoleted.
func (o *object) retain() bool {
	var n int64
	for {
		n = o.refs.Load()
		if n == 0 && o.setupDone.Load() {
			return false
		}
		if o.refs.CompareAndSwap(n, n+1) {
			break
		}
	}
	if n > 0 {
		return true
	}
	// From zero, setup may have closed between our load and CAS. Wait for an
	// in-flight removal to decide.
	for {
		switch o.state() {
		case StateQueued:
			runtime.Gosched()
		case StateObsoleted:
			o.refs.Add(-1)
			return false
		default:
			return true
		}
	}
}

// unretain drops one async reference and reports whether it was the last.
func (o *object) unretain() bool {
	return o.refs.Add(-1) == 0
}

// moreEvictable orders objects for eviction. Obsoleted objects come first,
// then the one whose next access lies further in the future.
func moreEvictable(a, b *object) bool {
	ao, bo := a.obsoleted(), b.obsoleted()
	if ao != bo {
		return ao
	}
	return a.hot.Load() > b.hot.Load()
}
