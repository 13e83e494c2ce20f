package vdevq

import (
	"fmt"
	"sync"
	"time"
)

// Backing is the storage behind an Aggregate. It is either a *VectorBacking
// or a *ScratchBacking.
type Backing interface {
	Segments() []Segment
	// Name is "vectored" or "buffered".
	Name() string
	sealed()
}

// VectorBacking references the children's own buffers plus shared zero and
// filler segments. Nothing is copied.
type VectorBacking struct {
	segs []Segment
}

func (v *VectorBacking) Segments() []Segment { return v.segs }
func (v *VectorBacking) Name() string        { return "vectored" }
func (v *VectorBacking) sealed()             {}

// ScratchBacking is one contiguous buffer covering the aggregate's span.
// Write data is copied in before dispatch; read data is copied out to the
// children on completion.
type ScratchBacking struct {
	buf []byte
}

// Bytes returns the scratch buffer.
func (s *ScratchBacking) Bytes() []byte { return s.buf }

func (s *ScratchBacking) Segments() []Segment {
	return []Segment{{Kind: SegmentData, Data: s.buf}}
}
func (s *ScratchBacking) Name() string { return "buffered" }
func (s *ScratchBacking) sealed()      {}

// Aggregate is a synthetic transfer covering several queued requests of the
// same type. It does not own its children; it only references them.
type Aggregate struct {
	id       uint64
	typ      IOType
	offset   int64
	size     int64
	priority int
	flags    Flag
	children []*Request
	backing  Backing

	dispatched time.Time

	errMu sync.Mutex
	err   error
}

func (a *Aggregate) ID() uint64          { return a.id }
func (a *Aggregate) Type() IOType        { return a.typ }
func (a *Aggregate) Offset() int64       { return a.offset }
func (a *Aggregate) Size() int64         { return a.size }
func (a *Aggregate) Priority() int       { return a.priority }
func (a *Aggregate) Flags() Flag         { return a.flags }
func (a *Aggregate) Backing() Backing    { return a.backing }
func (a *Aggregate) Segments() []Segment { return a.backing.Segments() }

// Children returns the absorbed requests in offset order.
func (a *Aggregate) Children() []*Request { return a.children }

// Vectored reports whether the aggregate is zero-copy.
func (a *Aggregate) Vectored() bool {
	_, ok := a.backing.(*VectorBacking)
	return ok
}

func (a *Aggregate) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

func (a *Aggregate) SetErr(err error) {
	a.errMu.Lock()
	a.err = err
	a.errMu.Unlock()
}

func (a *Aggregate) dispatchedAt() time.Time    { return a.dispatched }
func (a *Aggregate) markDispatched(t time.Time) { a.dispatched = t }

// fill copies write payloads into a scratch backing and zeroes no-data
// ranges. Vectored aggregates need no preparation.
func (a *Aggregate) fill() {
	sb, ok := a.backing.(*ScratchBacking)
	if !ok || a.typ != Write {
		return
	}
	for _, c := range a.children {
		dst := sb.buf[c.offset-a.offset : c.offset-a.offset+c.size]
		if c.noData() {
			clear(dst)
			continue
		}
		copy(dst, c.buf)
	}
}

// copyBack delivers a buffered read to every child that has a buffer. It
// runs whatever the transfer's outcome so the children's buffers are
// deterministic.
func (a *Aggregate) copyBack() {
	sb, ok := a.backing.(*ScratchBacking)
	if !ok || a.typ != Read {
		return
	}
	for _, c := range a.children {
		if c.noData() {
			continue
		}
		copy(c.buf, sb.buf[c.offset-a.offset:c.offset-a.offset+c.size])
	}
}

func (a *Aggregate) String() string {
	return fmt.Sprintf("agg#%d{%s off=%d size=%d children=%d %s}", a.id, a.typ, a.offset, a.size, len(a.children), a.backing.Name())
}
