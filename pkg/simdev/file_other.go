//go:build !linux

package simdev

import (
	"context"
	"fmt"

	"github.com/marmos91/vdevq/pkg/vdevq"
)

// ReadV reads each data segment with ReadAt.
func (d *FileDevice) ReadV(_ context.Context, off int64, segs []vdevq.Segment) error {
	if err := checkRange(d, off, segs); err != nil {
		return err
	}
	for _, s := range segs {
		if s.Kind == vdevq.SegmentData {
			if _, err := d.f.ReadAt(s.Data, off); err != nil {
				return fmt.Errorf("read at %d: %w", off, err)
			}
		}
		off += s.Len()
	}
	return nil
}

// WriteV writes each segment with WriteAt.
func (d *FileDevice) WriteV(_ context.Context, off int64, segs []vdevq.Segment) error {
	if err := checkRange(d, off, segs); err != nil {
		return err
	}
	for _, s := range segs {
		if _, err := d.f.WriteAt(s.Data, off); err != nil {
			return fmt.Errorf("write at %d: %w", off, err)
		}
		off += s.Len()
	}
	return nil
}
