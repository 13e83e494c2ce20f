// Package bufpool provides tiered buffer pools for transfer payloads and a
// budgeted allocator for aggregate backing storage.
//
// # Size Classes
//
// The pool keeps three size tiers:
//   - Small buffers (default 4KB): single-block requests
//   - Medium buffers (default 128KB): aggregates up to the default
//     aggregation limit
//   - Large buffers (default 1MB): oversized aggregates and bulk transfers
//
// Buffers larger than the large tier are allocated directly and not pooled
// so that an occasional huge transfer does not pin memory.
//
// # Budget
//
// Allocator wraps a Pool with two budgets: bytes of scratch memory held by
// buffered aggregates and segment-list entries held by vectored ones. When a
// budget is exhausted the call fails with ErrExhausted and the queue falls
// back to a cheaper strategy. A zero budget is unlimited.
//
// # Usage
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Default buffer size classes.
const (
	// DefaultSmallSize handles single-block requests (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize handles typical aggregates (128KB)
	DefaultMediumSize = 128 << 10

	// DefaultLargeSize handles oversized aggregates (1MB)
	DefaultLargeSize = 1 << 20
)

// ErrExhausted is returned when an allocation would exceed its budget.
var ErrExhausted = errors.New("bufpool: budget exhausted")

// Pool manages a set of byte slice pools organized by size class.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// MediumSize is the size of medium buffers (default: 128KB)
	MediumSize int

	// LargeSize is the size of large buffers (default: 1MB)
	LargeSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a new buffer pool with the given configuration.
// If config is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}
	p.small.New = p.newBuf(p.smallSize)
	p.medium.New = p.newBuf(p.mediumSize)
	p.large.New = p.newBuf(p.largeSize)
	return p
}

func (p *Pool) newBuf(size int) func() any {
	return func() any {
		buf := make([]byte, size)
		return &buf
	}
}

// Get returns a byte slice of exactly size bytes backed by a pooled buffer
// of the smallest fitting class. The contents are not zeroed.
//
// For sizes larger than LargeSize, a new slice is allocated directly.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer obtained from Get. Buffers whose capacity does not
// match a size class are left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.smallSize:
		p.small.Put(&full)
	case p.mediumSize:
		p.medium.Put(&full)
	case p.largeSize:
		p.large.Put(&full)
	}
}

// =============================================================================
// Global Pool
// =============================================================================

var globalPool = NewPool(nil)

// Get returns a byte slice of size bytes from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// =============================================================================
// Budgeted Allocator
// =============================================================================

// Usage is a snapshot of an Allocator's outstanding reservations.
type Usage struct {
	ScratchBytes   int64 `json:"scratch_bytes" yaml:"scratch_bytes"`
	VectorSegments int64 `json:"vector_segments" yaml:"vector_segments"`
	Failures       int64 `json:"failures" yaml:"failures"`
}

// Allocator hands out aggregate backing storage under fixed budgets. It
// satisfies vdevq.Allocator.
type Allocator struct {
	pool          *Pool
	scratchBudget int64
	vectorBudget  int64

	scratch  atomic.Int64
	vectors  atomic.Int64
	failures atomic.Int64
}

// NewAllocator creates an allocator drawing from pool. scratchBudget is in
// bytes and vectorBudget in segment entries; zero means unlimited. A nil
// pool uses the global pool.
func NewAllocator(pool *Pool, scratchBudget, vectorBudget int64) *Allocator {
	if pool == nil {
		pool = globalPool
	}
	return &Allocator{
		pool:          pool,
		scratchBudget: scratchBudget,
		vectorBudget:  vectorBudget,
	}
}

// AllocScratch returns a buffer of exactly n bytes.
func (a *Allocator) AllocScratch(n int) ([]byte, error) {
	if !reserve(&a.scratch, int64(n), a.scratchBudget) {
		a.failures.Add(1)
		return nil, fmt.Errorf("%w: scratch %d bytes (in use %d of %d)", ErrExhausted, n, a.scratch.Load(), a.scratchBudget)
	}
	return a.pool.Get(n), nil
}

// FreeScratch returns a buffer from AllocScratch.
func (a *Allocator) FreeScratch(buf []byte) {
	a.scratch.Add(-int64(len(buf)))
	a.pool.Put(buf)
}

// ReserveVector accounts for a segment list of n entries.
func (a *Allocator) ReserveVector(n int) error {
	if !reserve(&a.vectors, int64(n), a.vectorBudget) {
		a.failures.Add(1)
		return fmt.Errorf("%w: %d vector segments (in use %d of %d)", ErrExhausted, n, a.vectors.Load(), a.vectorBudget)
	}
	return nil
}

// ReleaseVector returns a reservation made by ReserveVector.
func (a *Allocator) ReleaseVector(n int) {
	a.vectors.Add(-int64(n))
}

// Usage returns the current reservations.
func (a *Allocator) Usage() Usage {
	return Usage{
		ScratchBytes:   a.scratch.Load(),
		VectorSegments: a.vectors.Load(),
		Failures:       a.failures.Load(),
	}
}

// reserve adds n to v unless that would exceed budget.
func reserve(v *atomic.Int64, n, budget int64) bool {
	for {
		cur := v.Load()
		if budget > 0 && cur+n > budget {
			return false
		}
		if v.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}
