package vdevq

// Allocator provides aggregate backing storage. Either call may fail; the
// queue then falls back from vectored to buffered, and from buffered to
// dispatching the seed request alone.
//
// pkg/bufpool provides the default implementation.
type Allocator interface {
	// AllocScratch returns a buffer of exactly n bytes.
	AllocScratch(n int) ([]byte, error)
	FreeScratch(buf []byte)

	// ReserveVector accounts for a segment list of n entries.
	ReserveVector(n int) error
	ReleaseVector(n int)
}

// heapAllocator never fails.
type heapAllocator struct{}

func (heapAllocator) AllocScratch(n int) ([]byte, error) { return make([]byte, n), nil }
func (heapAllocator) FreeScratch([]byte)                 {}
func (heapAllocator) ReserveVector(int) error            { return nil }
func (heapAllocator) ReleaseVector(int)                  {}
