package vdevq

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/vdevq/internal/logger"
)

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Queued       int `json:"queued" yaml:"queued"`
	QueuedReads  int `json:"queued_reads" yaml:"queued_reads"`
	QueuedWrites int `json:"queued_writes" yaml:"queued_writes"`
	Pending      int `json:"pending" yaml:"pending"`

	Submitted       uint64 `json:"submitted" yaml:"submitted"`
	Passthrough     uint64 `json:"passthrough" yaml:"passthrough"`
	Dispatched      uint64 `json:"dispatched" yaml:"dispatched"`
	Aggregates      uint64 `json:"aggregates" yaml:"aggregates"`
	Vectored        uint64 `json:"vectored" yaml:"vectored"`
	Buffered        uint64 `json:"buffered" yaml:"buffered"`
	Absorbed        uint64 `json:"absorbed" yaml:"absorbed"`
	Dropped         uint64 `json:"dropped" yaml:"dropped"`
	Completed       uint64 `json:"completed" yaml:"completed"`
	Throttled       uint64 `json:"throttled" yaml:"throttled"`
	FutureThrottled uint64 `json:"future_throttled" yaml:"future_throttled"`
	AllocFallbacks  uint64 `json:"alloc_fallbacks" yaml:"alloc_fallbacks"`
	MaxPendingSeen  int    `json:"max_pending_seen" yaml:"max_pending_seen"`
}

// Sub returns the counters accumulated since prev. Gauges and
// MaxPendingSeen are taken from s.
func (s Stats) Sub(prev Stats) Stats {
	s.Submitted -= prev.Submitted
	s.Passthrough -= prev.Passthrough
	s.Dispatched -= prev.Dispatched
	s.Aggregates -= prev.Aggregates
	s.Vectored -= prev.Vectored
	s.Buffered -= prev.Buffered
	s.Absorbed -= prev.Absorbed
	s.Dropped -= prev.Dropped
	s.Completed -= prev.Completed
	s.Throttled -= prev.Throttled
	s.FutureThrottled -= prev.FutureThrottled
	s.AllocFallbacks -= prev.AllocFallbacks
	return s
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock used for deadlines.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithAllocator replaces the allocator for aggregate backing storage.
func WithAllocator(a Allocator) Option {
	return func(q *Queue) { q.alloc = a }
}

// WithMetrics attaches a metrics sink. nil disables metrics.
func WithMetrics(m Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithName names the device in logs and metrics.
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// Queue schedules and aggregates I/O for one device.
type Queue struct {
	id      string
	name    string
	driver  Driver
	clock   Clock
	epoch   time.Time
	alloc   Allocator
	metrics Metrics

	mu        sync.Mutex
	cfg       Config
	deadline  *requestIndex
	reads     *requestIndex
	writes    *requestIndex
	pending   *unitIndex
	zeroBuf   []byte
	fillerBuf []byte
	stats     Stats
}

// New creates a queue that dispatches to drv.
func New(cfg Config, drv Driver, opts ...Option) (*Queue, error) {
	if drv == nil {
		return nil, ErrNilDriver
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	q := &Queue{
		id:       uuid.NewString(),
		name:     "vdev",
		driver:   drv,
		clock:    systemClock{},
		alloc:    heapAllocator{},
		cfg:      cfg,
		deadline: newRequestIndex(lessDeadline),
		reads:    newRequestIndex(lessOffset),
		writes:   newRequestIndex(lessOffset),
		pending:  newUnitIndex(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.epoch = q.clock.Now()

	logger.Debug("Queue created",
		logger.KeyDevice, q.name,
		logger.KeyQueueID, q.id,
		"min_pending", cfg.MinPending,
		"max_pending", cfg.MaxPending,
		"aggregation_limit", cfg.AggregationLimit)

	return q, nil
}

// ID returns the queue's instance identifier.
func (q *Queue) ID() string { return q.id }

// Name returns the device name.
func (q *Queue) Name() string { return q.name }

// Config returns the current tunables.
func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// SetConfig replaces the tunables. They apply from the next selection; work
// that a raised limit now admits is dispatched before SetConfig returns.
func (q *Queue) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()

	logger.Info("Queue tunables updated", logger.KeyDevice, q.name,
		"min_pending", cfg.MinPending, "max_pending", cfg.MaxPending)
	q.Poll()
	return nil
}

// Submit queues r and dispatches at most one unit if admission allows it.
// The returned unit, if any, has already been handed to the driver and may
// already be complete.
//
// A request flagged FlagDontQueue skips the indices and goes straight to the
// driver.
func (q *Queue) Submit(r *Request) (Unit, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if r.state != stateNew {
		q.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	q.stats.Submitted++

	if r.Flags()&FlagDontQueue != 0 {
		r.state = statePending
		q.stats.Passthrough++
		q.mu.Unlock()
		q.flush(&batch{dispatch: []Unit{r}})
		return r, nil
	}

	r.deadline.Store(q.nowTicks() + int64(r.priority))
	r.state = stateQueued
	q.deadline.insert(r)
	q.offsetIndex(r.typ).insert(r)

	var b batch
	u := q.selectLocked(q.cfg.MinPending, &b)
	q.reportDepthLocked()
	q.mu.Unlock()

	q.flush(&b)
	return u, nil
}

// OnComplete is called by the driver once per unit it was handed, after
// recording any error with SetErr.
func (q *Queue) OnComplete(u Unit) {
	q.mu.Lock()
	if !q.pending.remove(u) && !passthrough(u) {
		q.mu.Unlock()
		logger.Error("Completion for unit not in flight", logger.KeyDevice, q.name,
			logger.KeyUnitID, u.ID(), logger.KeyOffset, u.Offset())
		return
	}
	q.stats.Completed++
	q.mu.Unlock()

	err := u.Err()
	if q.metrics != nil {
		q.metrics.ObserveCompletion(u.Type(), q.clock.Now().Sub(u.dispatchedAt()), err != nil)
	}
	if err != nil {
		logger.Debug("Transfer failed", logger.KeyDevice, q.name, logger.KeyUnitID, u.ID(),
			logger.KeyOffset, u.Offset(), logger.KeySize, u.Size(), logger.KeyError, err)
	}

	switch v := u.(type) {
	case *Aggregate:
		v.copyBack()
		q.freeBacking(v)
		for _, c := range v.children {
			if err != nil {
				c.SetErr(err)
			}
			c.releaseBuffer()
		}
	case *Request:
		v.complete()
		v.releaseBuffer()
	}

	var b batch
	q.mu.Lock()
	for i := 0; i < q.cfg.RampRate; i++ {
		if q.selectLocked(q.cfg.MaxPending, &b) == nil {
			break
		}
	}
	q.reportDepthLocked()
	q.mu.Unlock()

	q.flush(&b)
}

// Poll dispatches queued work until admission at MinPending refuses. The
// queue owns no timers, so callers use it to resume work held back by the
// future-deadline throttle once time has passed.
func (q *Queue) Poll() int {
	var b batch
	q.mu.Lock()
	n := 0
	for q.selectLocked(q.cfg.MinPending, &b) != nil {
		n++
	}
	q.reportDepthLocked()
	q.mu.Unlock()

	q.flush(&b)
	return n
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.QueuedReads = q.reads.len()
	s.QueuedWrites = q.writes.len()
	s.Queued = q.deadline.len()
	s.Pending = q.pending.len()
	return s
}

// batch collects the work produced under the mutex that must run after it
// is released, in order: scratch fills, bypass completions, dispatch.
type batch struct {
	fills    []*Aggregate
	absorbed []*Request
	dropped  []*Request
	dispatch []Unit
}

func (q *Queue) flush(b *batch) {
	for _, a := range b.fills {
		a.fill()
	}
	for _, r := range b.absorbed {
		r.complete()
		if q.metrics != nil {
			q.metrics.ObserveBypass(r.typ, "absorbed")
		}
	}
	for _, r := range b.dropped {
		r.complete()
		r.releaseBuffer()
		if q.metrics != nil {
			q.metrics.ObserveBypass(r.typ, "nodata")
		}
	}

	now := q.clock.Now()
	for _, u := range b.dispatch {
		u.markDispatched(now)
		backing, children := "single", 1
		if a, ok := u.(*Aggregate); ok {
			backing, children = a.backing.Name(), len(a.children)
		}
		if q.metrics != nil {
			q.metrics.ObserveDispatch(u.Type(), backing, u.Size(), children)
		}
		logger.Debug("Dispatch",
			logger.KeyDevice, q.name,
			logger.KeyUnitID, u.ID(),
			logger.KeyIOType, u.Type().String(),
			logger.KeyOffset, u.Offset(),
			logger.KeySize, u.Size(),
			logger.KeyBacking, backing,
			logger.KeyChildren, children)
		q.driver.Dispatch(u)
	}
}

// passthrough reports whether u is an unqueued request still awaiting its
// first completion.
func passthrough(u Unit) bool {
	r, ok := u.(*Request)
	return ok && r.parent == nil && r.Flags()&FlagDontQueue != 0 && !r.Completed()
}

func (q *Queue) offsetIndex(t IOType) *requestIndex {
	if t == Read {
		return q.reads
	}
	return q.writes
}

// nowTicks returns the scheduler tick: milliseconds since the queue was
// created, shifted right by TimeShift.
func (q *Queue) nowTicks() int64 {
	ms := q.clock.Now().Sub(q.epoch).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms >> q.cfg.TimeShift
}

func (q *Queue) reportDepthLocked() {
	if q.metrics != nil {
		q.metrics.SetDepth(q.deadline.len(), q.pending.len())
	}
}

func (q *Queue) freeBacking(a *Aggregate) {
	switch b := a.backing.(type) {
	case *ScratchBacking:
		q.alloc.FreeScratch(b.buf)
		b.buf = nil
	case *VectorBacking:
		q.alloc.ReleaseVector(len(b.segs))
	}
}
