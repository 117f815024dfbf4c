package cache

import "slices"

// State is the management state of an object.
type State uint8

const (
	// StateNone: not linked into any candle.
	StateNone State = iota
	// StateQueued: a single action owns the right to transition the object.
	StateQueued
	// StateManaging: linked into exactly one candle and subject to eviction.
	StateManaging
	// StateObsoleted: terminal; no references remain and the durable copy is purged.
	StateObsoleted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateQueued:
		return "queued"
	case StateManaging:
		return "managing"
	case StateObsoleted:
		return "obsoleted"
	default:
		return "unknown"
	}
}

// slot is the immutable pair stored in an object's state pointer. Transitions
// swap the whole pair at once, so the state and the owning candle can never be
// observed out of step.
type slot struct {
	state State
	shard *candle
}

var (
	noneSlot      = &slot{state: StateNone}
	queuedNone    = &slot{state: StateQueued}
	obsoletedSlot = &slot{state: StateObsoleted}
)

// begin moves the object to Queued if its current state is one of expected and
// returns the candle it was linked into (nil when not resident). Queued is
// never accepted, whatever expected lists. A false result
// means another action is in flight or the state is unsuitable; the caller must
// do nothing and rely on the in-flight action to finish the work.
func (o *object) begin(expected ...State) (*candle, bool) {
	for {
		cur := o.slot.Load()
		if cur.state == StateQueued || !slices.Contains(expected, cur.state) {
			return nil, false
		}
		next := queuedNone
		if cur.shard != nil {
			next = cur.shard.queued
		}
		if o.slot.CompareAndSwap(cur, next) {
			return cur.shard, true
		}
	}
}

// end publishes the outcome of the action that owns the Queued state.
func (o *object) end(next *slot) { o.slot.Store(next) }

// state returns a snapshot of the management state.
func (o *object) state() State { return o.slot.Load().state }
