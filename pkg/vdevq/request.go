package vdevq

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/vdevq/internal/logger"
)

// nextID hands out identities for requests and aggregates. Identity is the
// final tiebreak in every index ordering.
var nextID atomic.Uint64

func allocID() uint64 { return nextID.Add(1) }

// DoneFunc is called once when a request is logically complete.
type DoneFunc func(r *Request)

// ReleaseFunc is called once when no transfer references the request's
// buffer any more. For reads it marks the point where the buffer holds the
// device data.
type ReleaseFunc func(r *Request)

// Request lifecycle states.
const (
	stateNew uint32 = iota
	stateQueued
	statePending
	stateAbsorbed
	stateBypassed
)

// Request is a single read or write issued to the device.
//
// Priority is used twice: it is added to the submission tick to form the
// deadline, and the deadline is the primary ordering key. Callers that use a
// priority scale with different units change how far in the future their
// deadlines land, not just their relative order.
type Request struct {
	id       uint64
	typ      IOType
	offset   int64
	size     int64
	priority int
	buf      []byte

	done    DoneFunc
	release ReleaseFunc

	// Written under the queue mutex; atomic so callers may read them while
	// the request is queued.
	flags    atomic.Uint32
	deadline atomic.Int64

	// Set under the queue mutex.
	parent *Aggregate
	state  uint32

	dispatched time.Time

	errMu sync.Mutex
	err   error

	completed atomic.Bool
	released  atomic.Bool
}

// RequestOption configures a Request.
type RequestOption func(*Request)

// WithPriority sets the deadline bias. Lower runs sooner.
func WithPriority(p int) RequestOption {
	return func(r *Request) { r.priority = p }
}

// WithFlags ORs caller flags into the request.
func WithFlags(f Flag) RequestOption {
	return func(r *Request) { r.flags.Or(uint32(f)) }
}

// WithDone sets the completion callback.
func WithDone(fn DoneFunc) RequestOption {
	return func(r *Request) { r.done = fn }
}

// WithRelease sets the buffer release callback.
func WithRelease(fn ReleaseFunc) RequestOption {
	return func(r *Request) { r.release = fn }
}

// NewRequest creates a request transferring buf at offset.
func NewRequest(typ IOType, offset int64, buf []byte, opts ...RequestOption) *Request {
	r := &Request{
		id:     allocID(),
		typ:    typ,
		offset: offset,
		size:   int64(len(buf)),
		buf:    buf,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRead is shorthand for NewRequest(Read, ...).
func NewRead(offset int64, buf []byte, opts ...RequestOption) *Request {
	return NewRequest(Read, offset, buf, opts...)
}

// NewWrite is shorthand for NewRequest(Write, ...).
func NewWrite(offset int64, buf []byte, opts ...RequestOption) *Request {
	return NewRequest(Write, offset, buf, opts...)
}

// NewPlaceholder creates an optional write of size bytes that carries no
// payload. It only exists to let real writes on either side merge.
func NewPlaceholder(offset, size int64, opts ...RequestOption) *Request {
	r := &Request{
		id:     allocID(),
		typ:    Write,
		offset: offset,
		size:   size,
	}
	r.flags.Store(uint32(FlagOptional | FlagNoData))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Request) ID() uint64      { return r.id }
func (r *Request) Type() IOType    { return r.typ }
func (r *Request) Offset() int64   { return r.offset }
func (r *Request) Size() int64     { return r.size }
func (r *Request) Priority() int   { return r.priority }
func (r *Request) Buffer() []byte  { return r.buf }
func (r *Request) Deadline() int64 { return r.deadline.Load() }

// Parent returns the aggregate that absorbed r. It is set before Done runs.
func (r *Request) Parent() *Aggregate { return r.parent }

// Flags returns the current flags. While the request is queued a stretch
// may clear FlagOptional and absorption sets FlagDontQueue.
func (r *Request) Flags() Flag { return Flag(r.flags.Load()) }

func (r *Request) setFlags(f Flag)   { r.flags.Or(uint32(f)) }
func (r *Request) clearFlags(f Flag) { r.flags.And(^uint32(f)) }

func (r *Request) optional() bool { return r.Flags()&FlagOptional != 0 }
func (r *Request) noData() bool   { return r.Flags()&FlagNoData != 0 }

// Segments returns the request's buffer as a single segment. A no-data
// request yields a zero segment.
func (r *Request) Segments() []Segment {
	if r.noData() {
		return []Segment{{Kind: SegmentZero, Data: make([]byte, r.size)}}
	}
	return []Segment{{Kind: SegmentData, Data: r.buf}}
}

func (r *Request) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Request) SetErr(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
}

// Completed reports whether the done callback has run.
func (r *Request) Completed() bool { return r.completed.Load() }

// Released reports whether the buffer has been released.
func (r *Request) Released() bool { return r.released.Load() }

func (r *Request) dispatchedAt() time.Time    { return r.dispatched }
func (r *Request) markDispatched(t time.Time) { r.dispatched = t }

func (r *Request) validate() error {
	switch {
	case r.offset < 0:
		return fmt.Errorf("%w: negative offset %d", ErrInvalidRequest, r.offset)
	case r.size <= 0:
		return fmt.Errorf("%w: size %d", ErrInvalidRequest, r.size)
	case r.typ != Read && r.typ != Write:
		return fmt.Errorf("%w: type %d", ErrInvalidRequest, r.typ)
	}
	if r.noData() {
		if r.typ != Write {
			return fmt.Errorf("%w: no-data read", ErrInvalidRequest)
		}
		return nil
	}
	if r.optional() {
		return fmt.Errorf("%w: optional request must carry no data", ErrInvalidRequest)
	}
	if int64(len(r.buf)) != r.size {
		return fmt.Errorf("%w: buffer length %d != size %d", ErrInvalidRequest, len(r.buf), r.size)
	}
	return nil
}

// complete runs the done callback. A second call is logged and dropped.
func (r *Request) complete() {
	if !r.completed.CompareAndSwap(false, true) {
		logger.Error("request completed twice", logger.KeyRequestID, r.id, logger.KeyOffset, r.offset)
		return
	}
	if r.done != nil {
		r.done(r)
	}
}

// releaseBuffer runs the release callback at most once.
func (r *Request) releaseBuffer() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.release != nil {
		r.release(r)
	}
}

func (r *Request) String() string {
	return fmt.Sprintf("req#%d{%s off=%d size=%d prio=%d flags=%s}", r.id, r.typ, r.offset, r.size, r.priority, r.Flags())
}
