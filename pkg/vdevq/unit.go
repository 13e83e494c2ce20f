package vdevq

import "time"

// SegmentKind says what a segment's memory refers to.
type SegmentKind uint8

const (
	// SegmentData references a request's own buffer or a scratch buffer.
	SegmentData SegmentKind = iota
	// SegmentZero references the queue's shared zero buffer. Drivers must
	// treat it as read-only.
	SegmentZero
	// SegmentFiller references the queue's shared read filler buffer. Its
	// contents are meaningless; drivers may skip copying into it.
	SegmentFiller
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentData:
		return "data"
	case SegmentZero:
		return "zero"
	case SegmentFiller:
		return "filler"
	default:
		return "unknown"
	}
}

// Segment is one element of a scatter/gather list.
type Segment struct {
	Kind SegmentKind
	Data []byte
}

// Len returns the segment length in bytes.
func (s Segment) Len() int64 { return int64(len(s.Data)) }

// Unit is something the queue hands to the driver: either a standalone
// *Request or an *Aggregate.
type Unit interface {
	ID() uint64
	Type() IOType
	Offset() int64
	Size() int64
	Priority() int
	Flags() Flag

	// Segments returns the memory the transfer reads from or writes into,
	// in device offset order. The lengths sum to Size.
	Segments() []Segment

	// Err returns the error the driver recorded with SetErr.
	Err() error
	// SetErr records the transfer outcome. Drivers call it before
	// Queue.OnComplete.
	SetErr(err error)

	dispatchedAt() time.Time
	markDispatched(t time.Time)
}

// Driver performs physical transfers. Dispatch must not block on the
// transfer; the driver reports completion by calling Queue.OnComplete with
// the same unit, from any goroutine, possibly before Dispatch returns.
type Driver interface {
	Dispatch(u Unit)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(u Unit)

// Dispatch calls f(u).
func (f DriverFunc) Dispatch(u Unit) { f(u) }

// span returns the byte distance from a's start to b's end.
func span(a, b Unit) int64 {
	return b.Offset() + b.Size() - a.Offset()
}

// gap returns the distance between the end of a and the start of b.
// Negative means the two overlap.
func gap(a, b Unit) int64 {
	return -span(b, a)
}
