package cache

import (
	"runtime"
	"sync/atomic"
)

// objectLock is a spin-based read/manage lock owned by a single managed object.
// n > 0 counts read shares, n == -1 marks the manager, n == 0 is free.
//
// Contention resolves by retrying with runtime.Gosched; nothing ever parks on a
// wait queue. There is no fairness: under sustained contention an acquirer can
// be bypassed indefinitely.
type objectLock struct {
	n         atomic.Int32
	upgrading atomic.Bool
}

type holdMode uint8

const (
	holdRead holdMode = iota + 1
	holdManage
)

// hold is one acquisition of an objectLock. A hold belongs to the goroutine
// that acquired it; release may be called any number of times.
type hold struct {
	l        *objectLock
	mode     holdMode
	released atomic.Bool
}

// acquireRead spins until no manager holds the lock, then takes a read share.
func (l *objectLock) acquireRead() *hold {
	for {
		n := l.n.Load()
		if n >= 0 && l.n.CompareAndSwap(n, n+1) {
			return &hold{l: l, mode: holdRead}
		}
		runtime.Gosched()
	}
}

// tryManage makes a single attempt at exclusive access.
func (l *objectLock) tryManage() (*hold, bool) {
	if l.n.CompareAndSwap(0, -1) {
		return &hold{l: l, mode: holdManage}, true
	}
	return nil, false
}

// locked reports whether any read share or the manager is held.
func (l *objectLock) locked() bool { return l.n.Load() != 0 }

// upgrade turns a read hold into a manage hold, waiting until no other reader
// remains. Only one holder upgrades in place; a second concurrent upgrader
// surrenders its share and queues for exclusive access, so two upgraders never
// wait on each other. Callers must re-validate what they observed under the
// read share.
func (h *hold) upgrade() {
	if h.mode != holdRead || h.released.Load() {
		return
	}
	l := h.l
	if l.upgrading.CompareAndSwap(false, true) {
		for !l.n.CompareAndSwap(1, -1) {
			runtime.Gosched()
		}
		l.upgrading.Store(false)
	} else {
		l.n.Add(-1)
		for !l.n.CompareAndSwap(0, -1) {
			runtime.Gosched()
		}
	}
	h.mode = holdManage
}

// downgrade turns a manage hold back into a single read share.
func (h *hold) downgrade() {
	if h.mode != holdManage || h.released.Load() {
		return
	}
	h.mode = holdRead
	h.l.n.Store(1)
}

// release gives the hold back. Only the first call has an effect.
func (h *hold) release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	switch h.mode {
	case holdRead:
		h.l.n.Add(-1)
	case holdManage:
		h.l.n.Store(0)
	}
}
