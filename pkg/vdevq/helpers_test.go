package vdevq

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const blockerOffset = 1 << 30

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// holdDriver records dispatched units and leaves completion to the test.
type holdDriver struct {
	mu    sync.Mutex
	units []Unit
}

func (d *holdDriver) Dispatch(u Unit) {
	d.mu.Lock()
	d.units = append(d.units, u)
	d.mu.Unlock()
}

// take returns and forgets the units dispatched so far.
func (d *holdDriver) take() []Unit {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.units
	d.units = nil
	return out
}

// failAllocator fails the configured stages and hands out dirty scratch.
type failAllocator struct {
	failVector  bool
	failScratch bool

	scratch atomic.Int64
	vectors atomic.Int64
}

var errNoMemory = errors.New("no memory")

func (a *failAllocator) AllocScratch(n int) ([]byte, error) {
	if a.failScratch {
		return nil, errNoMemory
	}
	a.scratch.Add(1)
	return bytes.Repeat([]byte{0xff}, n), nil
}

func (a *failAllocator) FreeScratch([]byte) { a.scratch.Add(-1) }

func (a *failAllocator) ReserveVector(n int) error {
	if a.failVector {
		return errNoMemory
	}
	a.vectors.Add(int64(n))
	return nil
}

func (a *failAllocator) ReleaseVector(n int) { a.vectors.Add(-int64(n)) }

// countingMetrics records queue events.
type countingMetrics struct {
	mu         sync.Mutex
	backings   []string
	bypasses   map[string]int
	throttles  map[string]int
	fallbacks  map[string]int
	failures   int
	lastQueued int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		bypasses:  map[string]int{},
		throttles: map[string]int{},
		fallbacks: map[string]int{},
	}
}

func (m *countingMetrics) ObserveDispatch(_ IOType, backing string, _ int64, _ int) {
	m.mu.Lock()
	m.backings = append(m.backings, backing)
	m.mu.Unlock()
}

func (m *countingMetrics) ObserveCompletion(_ IOType, _ time.Duration, failed bool) {
	m.mu.Lock()
	if failed {
		m.failures++
	}
	m.mu.Unlock()
}

func (m *countingMetrics) ObserveBypass(_ IOType, reason string) {
	m.mu.Lock()
	m.bypasses[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) ObserveThrottle(reason string) {
	m.mu.Lock()
	m.throttles[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) ObserveAllocFallback(stage string) {
	m.mu.Lock()
	m.fallbacks[stage]++
	m.mu.Unlock()
}

func (m *countingMetrics) SetDepth(queued, _ int) {
	m.mu.Lock()
	m.lastQueued = queued
	m.mu.Unlock()
}

// testConfig admits one unit on submit, so tests can hold a blocker while
// they queue the requests under test.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinPending = 1
	cfg.MaxPending = 4
	cfg.FuturePending = 1
	cfg.RampRate = 1
	return cfg
}

func newTestQueue(t *testing.T, cfg Config, opts ...Option) (*Queue, *holdDriver, *fakeClock) {
	t.Helper()
	d := &holdDriver{}
	clk := newFakeClock()
	q, err := New(cfg, d, append([]Option{WithClock(clk), WithName("test")}, opts...)...)
	require.NoError(t, err)
	return q, d, clk
}

// block dispatches a far-away read that keeps pending at MinPending.
func block(t *testing.T, q *Queue, d *holdDriver) Unit {
	t.Helper()
	u, err := q.Submit(NewRead(blockerOffset, make([]byte, 4096)))
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, []Unit{u}, d.take())
	return u
}

func submit(t *testing.T, q *Queue, r *Request) Unit {
	t.Helper()
	u, err := q.Submit(r)
	require.NoError(t, err)
	return u
}

func complete(q *Queue, u Unit, err error) {
	if err != nil {
		u.SetErr(err)
	}
	q.OnComplete(u)
}

func pattern(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// tracker counts callbacks per request.
type tracker struct {
	done    atomic.Int32
	release atomic.Int32
}

func (tr *tracker) opts() []RequestOption {
	return []RequestOption{
		WithDone(func(*Request) { tr.done.Add(1) }),
		WithRelease(func(*Request) { tr.release.Add(1) }),
	}
}
