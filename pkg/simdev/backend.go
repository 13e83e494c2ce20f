// Package simdev provides simulated block devices that drive a vdevq.Queue.
//
// A Backend performs scatter/gather transfers synchronously against memory
// or a file. A Device wraps a Backend as a vdevq.Driver: Dispatch never
// blocks, transfers run on a bounded set of goroutines with optional
// latency, bandwidth and fault injection, and each finished unit is handed
// back to the queue's OnComplete.
package simdev

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/vdevq/pkg/vdevq"
)

var (
	// ErrOutOfRange is returned for transfers outside the device.
	ErrOutOfRange = errors.New("simdev: transfer out of range")

	// ErrInjected is the error used by fault injection.
	ErrInjected = errors.New("simdev: injected fault")

	// ErrClosed is returned for units dispatched after Close.
	ErrClosed = errors.New("simdev: device closed")
)

// Backend is the storage behind a Device.
type Backend interface {
	Name() string
	// Kind is "mem" or "file".
	Kind() string
	Size() int64

	// ReadV fills the segments from the device starting at off. Filler
	// segments are not meaningful and may be left untouched.
	ReadV(ctx context.Context, off int64, segs []vdevq.Segment) error

	// WriteV stores the segments starting at off.
	WriteV(ctx context.Context, off int64, segs []vdevq.Segment) error

	Close() error
}

// segmentsLen returns the total length of segs.
func segmentsLen(segs []vdevq.Segment) int64 {
	var n int64
	for _, s := range segs {
		n += s.Len()
	}
	return n
}

func checkRange(b Backend, off int64, segs []vdevq.Segment) error {
	n := segmentsLen(segs)
	if off < 0 || off+n > b.Size() {
		return fmt.Errorf("%w: [%d, %d) on %s of size %d", ErrOutOfRange, off, off+n, b.Name(), b.Size())
	}
	return nil
}
