package cache

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/asyncmem/internal/util"
)

// maxRejected bounds consecutive lost relegation races in one cleanup pass.
// Whoever holds the contested objects re-triggers cleanup when they finish.
const maxRejected = 64

// Manager keeps near-term objects in memory and relegates the rest to a Store.
// All methods are safe for concurrent use by multiple goroutines.
type Manager struct {
	cfg     Config
	pred    Predictor
	store   Store
	metrics Metrics
	clock   Clock
	log     zerolog.Logger

	pool   *pool
	closed atomic.Bool

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_        util.CacheLinePad
	used     util.PaddedAtomicInt64 // summed size of resident objects
	resident util.PaddedAtomicInt64
}

// New constructs a Manager with the provided Options.
// Defaults are listed on Options; a nil Store or an invalid Config is
// rejected with ErrInvalidConfig.
func New(opt Options) (*Manager, error) {
	if err := opt.Config.Validate(); err != nil {
		return nil, err
	}
	if opt.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	opt.applyDefaults()

	l := zerolog.Nop()
	if opt.Logger != nil {
		l = *opt.Logger
	}

	return &Manager{
		cfg:     opt.Config,
		pred:    opt.Predictor,
		store:   opt.Store,
		metrics: opt.Metrics,
		clock:   opt.Clock,
		log:     l.With().Str("component", "asyncmem").Logger(),
		pool:    newPool(opt.Config.Shards, opt.Config.InitialSize),
	}, nil
}

// Config returns the configuration the manager runs with, defaults applied.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) now() int64 { return m.clock.NowUnixNano() }

// -------------------- state-changing actions --------------------

// track schedules o by its predicted next access: admits it into a candle, or
// re-keys it in the candle it already occupies. Then it settles o and runs
// cleanup.
func (m *Manager) track(ctx context.Context, o *object) error {
	if m.closed.Load() {
		return nil
	}
	c, ok := o.begin(StateNone, StateManaging)
	if !ok {
		return nil
	}

	wait := m.pred.Predict(&m.cfg, o.flowKey, o.access.Load())
	hot := o.start.Load() + int64(wait)

	var err error
	if c == nil {
		o.hot.Store(hot)
		err = m.admit(ctx, o)
	} else {
		// The hot time is a heap key: change it only while holding the candle.
		m.pool.takeSpecific(c)
		o.hot.Store(hot)
		next := noneSlot
		if c.fix(o) {
			next = c.slot
		}
		o.end(next)
		m.pool.put(c)
	}

	m.settle(ctx, o)
	return errors.Join(err, m.cleanUp(ctx))
}

// admit links a non-resident o into the least occupied candle. When that
// would exceed capacity, the colder of o and the coldest resident goes to
// the store instead. Caller owns the Queued state; admit ends it.
func (m *Manager) admit(ctx context.Context, o *object) error {
	var err error
	if m.used.Load()+o.size > m.cfg.Capacity {
		if cold := m.coldest(); cold != nil && moreEvictable(cold, o) {
			if _, err = m.relegate(ctx, cold, RelegateDisplaced); err != nil {
				m.log.Error().Err(err).Stringer("key", cold.key).Msg("relegate displaced object")
			}
		} else if h, ok := o.lock.tryManage(); ok {
			err = m.persistLocked(ctx, o, RelegateAdmission)
			h.release()
			o.end(noneSlot)
			if err != nil {
				m.log.Error().Err(err).Stringer("key", o.key).Msg("persist on admission")
			}
			return err
		}
	}

	if o.obsoleted() {
		o.end(noneSlot)
		return err
	}
	c := m.pool.take()
	c.push(o)
	m.used.Add(o.size)
	m.resident.Add(1)
	o.end(c.slot)
	m.pool.put(c)

	m.metrics.Admit()
	m.metrics.Size(int(m.resident.Load()), m.used.Load())
	m.log.Debug().Stringer("key", o.key).Str("flow", o.flowKey).Int("shard", c.id).Msg("admitted")
	return err
}

// relegate moves a resident o out of its candle and its payload to the store.
// It reports false when o was not eligible or its lock was busy.
func (m *Manager) relegate(ctx context.Context, o *object, reason RelegateReason) (bool, error) {
	c, ok := o.begin(StateManaging)
	if !ok {
		return false, nil
	}
	h, ok := o.lock.tryManage()
	if !ok {
		o.end(c.slot)
		m.settle(ctx, o)
		return false, nil
	}

	m.pool.takeSpecific(c)
	removed := c.remove(o)
	m.pool.put(c)
	if removed {
		m.used.Add(-o.size)
		m.resident.Add(-1)
	}

	err := m.persistLocked(ctx, o, reason)
	h.release()
	o.end(noneSlot)

	m.metrics.Size(int(m.resident.Load()), m.used.Load())
	m.settle(ctx, o)
	return true, err
}

// persistLocked writes o's payload to the store and drops it from memory.
// The caller holds o's manage lock. Objects nobody can read again are skipped.
func (m *Manager) persistLocked(ctx context.Context, o *object, reason RelegateReason) error {
	if o.refs.Load() == 0 || o.obsoleted() || o.payload == nil {
		return nil
	}
	data, err := o.codec.serialize(o.payload)
	if err != nil {
		return fmt.Errorf("%w: serialize %s: %w", ErrCodec, o.key, err)
	}
	hint := max(time.Duration(o.hot.Load()-m.now()), 0)
	if err := m.store.Store(ctx, o.key, data, hint); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersist, o.key, err)
	}
	o.durable.Store(true)
	o.payload = nil

	m.metrics.Relegate(reason)
	m.log.Debug().Stringer("key", o.key).Stringer("reason", reason).Dur("hint", hint).Msg("relegated")
	return nil
}

// removeFromManagement unlinks an obsoleted o and purges its durable copy.
// A not-yet-obsoleted o is left untouched.
func (m *Manager) removeFromManagement(ctx context.Context, o *object) {
	c, ok := o.begin(StateNone, StateManaging)
	if !ok {
		return
	}
	if !o.obsoleted() {
		if c != nil {
			o.end(c.slot)
			m.settle(ctx, o)
			return
		}
		o.end(noneSlot)
		// A reference opened after setup saw none; the object still needs a candle.
		if o.setupDone.Load() && o.refs.Load() > 0 && !o.durable.Load() {
			if err := m.track(ctx, o); err != nil {
				m.log.Error().Err(err).Stringer("key", o.key).Msg("track revived object")
			}
			return
		}
		m.settle(ctx, o)
		return
	}

	if c != nil {
		m.pool.takeSpecific(c)
		if c.remove(o) {
			m.used.Add(-o.size)
			m.resident.Add(-1)
		}
		m.pool.put(c)
	}
	o.end(obsoletedSlot)

	m.metrics.Purge()
	m.metrics.Size(int(m.resident.Load()), m.used.Load())
	m.purge(ctx, o)
}

// purge removes o's durable copy, if any. Failures leave garbage in the
// store but nothing reads it again.
func (m *Manager) purge(ctx context.Context, o *object) {
	if !o.durable.CompareAndSwap(true, false) {
		return
	}
	if err := m.store.Remove(ctx, o.key); err != nil {
		m.log.Warn().Err(err).Stringer("key", o.key).Msg("purge durable copy")
	}
}

// settle catches obsoletion that happened while another action owned o.
func (m *Manager) settle(ctx context.Context, o *object) {
	if o.obsoleted() && o.state() != StateObsoleted {
		m.removeFromManagement(ctx, o)
	}
}

// cleanUp relegates the coldest residents until used size fits capacity.
func (m *Manager) cleanUp(ctx context.Context) error {
	rejected := 0
	for m.used.Load() > m.cfg.Capacity {
		o := m.coldest()
		if o == nil {
			return nil
		}
		ok, err := m.relegate(ctx, o, RelegateCapacity)
		if err != nil {
			return err
		}
		if ok {
			rejected = 0
			continue
		}
		if rejected++; rejected >= maxRejected {
			return nil
		}
		runtime.Gosched()
	}
	return nil
}

// coldest returns the most evictable eligible object across all candles.
func (m *Manager) coldest() *object {
	var best *object
	for _, c := range m.pool.all {
		if o := c.peekCandidate(); o != nil && (best == nil || moreEvictable(o, best)) {
			best = o
		}
	}
	return best
}

// -------------------- lifecycle --------------------

// Close drains every candle and removes the durable copies of the drained
// objects. Afterwards Manage returns nil and handle reads fail with ErrClosed.
// Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	var drained []*object
	for _, c := range m.pool.all {
		m.pool.takeSpecific(c)
		for _, o := range c.drain() {
			m.used.Add(-o.size)
			m.resident.Add(-1)
			next := noneSlot
			if o.obsoleted() {
				next = obsoletedSlot
			}
			o.slot.CompareAndSwap(c.slot, next)
			drained = append(drained, o)
		}
		m.pool.put(c)
	}
	m.metrics.Size(0, m.used.Load())

	var g errgroup.Group
	g.SetLimit(m.cfg.Shards)
	for _, o := range drained {
		if !o.durable.CompareAndSwap(true, false) {
			continue
		}
		g.Go(func() error {
			if err := m.store.Remove(ctx, o.key); err != nil {
				return fmt.Errorf("remove %s: %w", o.key, err)
			}
			return nil
		})
	}
	err := g.Wait()
	m.log.Debug().Int("drained", len(drained)).Err(err).Msg("closed")
	return err
}

// Stats is a point-in-time snapshot of manager occupancy.
type Stats struct {
	// Used is the advisory used-size counter, in bytes.
	Used int64
	// Resident is the number of objects linked into candles.
	Resident int
	// ResidentBytes is the summed size of objects linked into candles.
	ResidentBytes int64
	// Shards holds per-candle object counts.
	Shards []int
}

func (s Stats) String() string { return fmt.Sprintf("Used:%d Items:%d", s.Used, s.Resident) }

// Stats returns current occupancy. Values are read without stopping writers
// and may be mutually inconsistent while actions are in flight.
func (m *Manager) Stats() Stats {
	s := Stats{Used: m.used.Load(), Shards: make([]int, len(m.pool.all))}
	for i, c := range m.pool.all {
		n := c.len()
		s.Shards[i] = n
		s.Resident += n
		s.ResidentBytes += c.residentBytes()
	}
	return s
}
