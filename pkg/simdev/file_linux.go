//go:build linux

package simdev

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/marmos91/vdevq/pkg/bufpool"
	"github.com/marmos91/vdevq/pkg/vdevq"
)

// ReadV issues one preadv per call, retrying short reads. Filler segments
// are redirected to private scratch so concurrent transfers never write the
// queue's shared filler.
func (d *FileDevice) ReadV(_ context.Context, off int64, segs []vdevq.Segment) error {
	if err := checkRange(d, off, segs); err != nil {
		return err
	}

	iovs := make([][]byte, len(segs))
	var scratch [][]byte
	for i, s := range segs {
		if s.Kind == vdevq.SegmentData {
			iovs[i] = s.Data
			continue
		}
		buf := bufpool.Get(len(s.Data))
		scratch = append(scratch, buf)
		iovs[i] = buf
	}
	defer func() {
		for _, b := range scratch {
			bufpool.Put(b)
		}
	}()

	return transferv(iovs, off, func(iovs [][]byte, off int64) (int, error) {
		return unix.Preadv(int(d.f.Fd()), iovs, off)
	})
}

// WriteV issues one pwritev per call, retrying short writes.
func (d *FileDevice) WriteV(_ context.Context, off int64, segs []vdevq.Segment) error {
	if err := checkRange(d, off, segs); err != nil {
		return err
	}

	iovs := make([][]byte, len(segs))
	for i, s := range segs {
		iovs[i] = s.Data
	}
	return transferv(iovs, off, func(iovs [][]byte, off int64) (int, error) {
		return unix.Pwritev(int(d.f.Fd()), iovs, off)
	})
}

// transferv calls op until every iovec is consumed.
func transferv(iovs [][]byte, off int64, op func([][]byte, int64) (int, error)) error {
	for len(iovs) > 0 {
		n, err := op(iovs, off)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("vectored transfer at %d: %w", off, err)
		}
		if n == 0 {
			return fmt.Errorf("vectored transfer at %d: %w", off, io.ErrUnexpectedEOF)
		}
		off += int64(n)
		iovs = advance(iovs, n)
	}
	return nil
}

// advance drops n bytes from the front of iovs.
func advance(iovs [][]byte, n int) [][]byte {
	for n > 0 && len(iovs) > 0 {
		if n < len(iovs[0]) {
			iovs[0] = iovs[0][n:]
			return iovs
		}
		n -= len(iovs[0])
		iovs = iovs[1:]
	}
	for len(iovs) > 0 && len(iovs[0]) == 0 {
		iovs = iovs[1:]
	}
	return iovs
}
