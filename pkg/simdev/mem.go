package simdev

import (
	"context"
	"sync"

	"github.com/marmos91/vdevq/pkg/vdevq"
)

// MemDevice is a Backend held in memory.
type MemDevice struct {
	name string
	mu   sync.RWMutex
	data []byte
}

// NewMemDevice creates a zero-filled in-memory device of size bytes.
func NewMemDevice(name string, size int64) *MemDevice {
	return &MemDevice{name: name, data: make([]byte, size)}
}

func (m *MemDevice) Name() string { return m.name }
func (m *MemDevice) Kind() string { return "mem" }
func (m *MemDevice) Size() int64  { return int64(len(m.data)) }

// ReadV copies device contents into the data segments. Filler and zero
// segments are skipped; they point at memory shared between transfers.
func (m *MemDevice) ReadV(_ context.Context, off int64, segs []vdevq.Segment) error {
	if err := checkRange(m, off, segs); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range segs {
		if s.Kind == vdevq.SegmentData {
			copy(s.Data, m.data[off:])
		}
		off += s.Len()
	}
	return nil
}

// WriteV stores every segment, including zero segments.
func (m *MemDevice) WriteV(_ context.Context, off int64, segs []vdevq.Segment) error {
	if err := checkRange(m, off, segs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range segs {
		if s.Kind == vdevq.SegmentFiller {
			clear(m.data[off : off+s.Len()])
		} else {
			copy(m.data[off:], s.Data)
		}
		off += s.Len()
	}
	return nil
}

// Snapshot returns a copy of n bytes at off.
func (m *MemDevice) Snapshot(off, n int64) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data[off:off+n]...)
}

func (m *MemDevice) Close() error { return nil }
