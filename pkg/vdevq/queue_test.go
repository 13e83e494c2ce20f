package vdevq

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("RejectsNilDriver", func(t *testing.T) {
		_, err := New(DefaultConfig(), nil)
		assert.ErrorIs(t, err, ErrNilDriver)
	})

	t.Run("RejectsInvalidConfig", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MinPending = 0
		_, err := New(cfg, &holdDriver{})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("AssignsIdentity", func(t *testing.T) {
		q, _, _ := newTestQueue(t, DefaultConfig())
		assert.NotEmpty(t, q.ID())
		assert.Equal(t, "test", q.Name())
		assert.Equal(t, DefaultConfig(), q.Config())
	})
}

func TestAggregateContiguousWrites(t *testing.T) {
	q, d, _ := newTestQueue(t, testConfig())
	blocker := block(t, q, d)

	var trs [3]tracker
	var ws [3]*Request
	for i := range ws {
		ws[i] = NewWrite(int64(i)*4096, pattern(4096, byte('a'+i)), trs[i].opts()...)
		assert.Nil(t, submit(t, q, ws[i]))
	}
	assert.Empty(t, d.take())
	assert.Equal(t, 3, q.Stats().QueuedWrites)

	complete(q, blocker, nil)

	units := d.take()
	require.Len(t, units, 1)
	agg, ok := units[0].(*Aggregate)
	require.True(t, ok)
	assert.Equal(t, Write, agg.Type())
	assert.Equal(t, int64(0), agg.Offset())
	assert.Equal(t, int64(12288), agg.Size())
	assert.Equal(t, ws[:], agg.Children())
	assert.True(t, agg.Vectored())
	assert.NotZero(t, agg.Flags()&FlagDontQueue)
	assert.Zero(t, agg.Flags()&FlagDontCache)

	segs := agg.Segments()
	require.Len(t, segs, 3)
	for i, s := range segs {
		assert.Equal(t, SegmentData, s.Kind)
		assert.Same(t, &ws[i].Buffer()[0], &s.Data[0])
	}

	// Children are complete before the physical transfer.
	for i := range ws {
		assert.Equal(t, int32(1), trs[i].done.Load())
		assert.Zero(t, trs[i].release.Load())
		assert.Same(t, agg, ws[i].Parent())
	}

	complete(q, agg, nil)
	for i := range ws {
		assert.Equal(t, int32(1), trs[i].done.Load())
		assert.Equal(t, int32(1), trs[i].release.Load())
	}

	st := q.Stats()
	assert.Equal(t, uint64(1), st.Aggregates)
	assert.Equal(t, uint64(3), st.Absorbed)
	assert.Equal(t, uint64(1), st.Vectored)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 0, st.Queued)
}

func TestAggregateReadsWithGap(t *testing.T) {
	t.Run("Vectored", func(t *testing.T) {
		q, d, _ := newTestQueue(t, testConfig())
		blocker := block(t, q, d)

		r0 := NewRead(0, make([]byte, 4096))
		r1 := NewRead(8192, make([]byte, 4096))
		submit(t, q, r0)
		submit(t, q, r1)
		complete(q, blocker, nil)

		units := d.take()
		require.Len(t, units, 1)
		agg := units[0].(*Aggregate)
		assert.Equal(t, int64(12288), agg.Size())
		assert.NotZero(t, agg.Flags()&FlagDontCache)

		segs := agg.Segments()
		require.Len(t, segs, 3)
		assert.Equal(t, SegmentData, segs[0].Kind)
		assert.Equal(t, SegmentFiller, segs[1].Kind)
		assert.Equal(t, int64(4096), segs[1].Len())
		assert.Equal(t, SegmentData, segs[2].Kind)
		assert.Same(t, &r1.Buffer()[0], &segs[2].Data[0])
	})

	t.Run("BufferedDeliversOnlyChildRanges", func(t *testing.T) {
		cfg := testConfig()
		cfg.VectorEnabled = false
		q, d, _ := newTestQueue(t, cfg)
		blocker := block(t, q, d)

		var releasedData [][]byte
		onRelease := WithRelease(func(r *Request) {
			releasedData = append(releasedData, append([]byte(nil), r.Buffer()...))
		})
		r0 := NewRead(0, make([]byte, 4096), onRelease)
		r1 := NewRead(8192, make([]byte, 4096), onRelease)
		submit(t, q, r0)
		submit(t, q, r1)
		complete(q, blocker, nil)

		units := d.take()
		require.Len(t, units, 1)
		agg := units[0].(*Aggregate)
		assert.False(t, agg.Vectored())
		sb, ok := agg.Backing().(*ScratchBacking)
		require.True(t, ok)
		require.Len(t, sb.Bytes(), 12288)

		// The device fills each 4K block with its block number.
		for i := range sb.Bytes() {
			sb.Bytes()[i] = byte(i/4096 + 1)
		}
		assert.Equal(t, make([]byte, 4096), r0.Buffer(), "nothing is delivered before completion")

		complete(q, agg, nil)
		assert.Equal(t, pattern(4096, 1), r0.Buffer())
		assert.Equal(t, pattern(4096, 3), r1.Buffer())
		assert.Equal(t, [][]byte{pattern(4096, 1), pattern(4096, 3)}, releasedData)
	})
}

func TestAdmissionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MinPending = 2
	cfg.MaxPending = 2
	q, d, _ := newTestQueue(t, cfg)

	r1 := NewRead(0, make([]byte, 4096))
	r2 := NewRead(1<<20, make([]byte, 4096))
	r3 := NewRead(2<<20, make([]byte, 4096))
	assert.Same(t, r1, submit(t, q, r1))
	assert.Same(t, r2, submit(t, q, r2))
	assert.Nil(t, submit(t, q, r3))

	st := q.Stats()
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, uint64(1), st.Throttled)
	assert.Zero(t, q.Poll())

	d.take()
	complete(q, r1, nil)
	assert.Equal(t, []Unit{r3}, d.take())
	assert.Equal(t, 2, q.Stats().Pending)
	assert.Equal(t, 2, q.Stats().MaxPendingSeen)
}

func TestRamp(t *testing.T) {
	cfg := testConfig()
	cfg.RampRate = 2
	q, d, _ := newTestQueue(t, cfg)
	blocker := block(t, q, d)

	for i := 0; i < 4; i++ {
		submit(t, q, NewRead(int64(i)<<20, make([]byte, 4096)))
	}
	complete(q, blocker, nil)

	assert.Len(t, d.take(), 2)
	st := q.Stats()
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 2, st.Queued)
}

func TestDeadlineOrder(t *testing.T) {
	q, d, _ := newTestQueue(t, testConfig())
	blocker := block(t, q, d)

	late := NewRead(0, make([]byte, 4096), WithPriority(5))
	early := NewRead(1<<20, make([]byte, 4096))
	submit(t, q, late)
	submit(t, q, early)
	assert.Less(t, early.Deadline(), late.Deadline())

	complete(q, blocker, nil)
	assert.Equal(t, []Unit{early}, d.take())
}

func TestFutureThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.MinPending = 4
	q, d, clk := newTestQueue(t, cfg)

	r1 := NewRead(0, make([]byte, 4096), WithPriority(100))
	r2 := NewRead(1<<20, make([]byte, 4096), WithPriority(100))
	assert.Same(t, r1, submit(t, q, r1), "an idle device admits future work")
	assert.Nil(t, submit(t, q, r2))
	assert.Equal(t, uint64(1), q.Stats().FutureThrottled)
	d.take()

	clk.Advance(100 << cfg.TimeShift * time.Millisecond)
	assert.Equal(t, 1, q.Poll())
	assert.Equal(t, []Unit{r2}, d.take())
}

func TestPlaceholderBridging(t *testing.T) {
	t.Run("StretchWithinGapLimit", func(t *testing.T) {
		cfg := testConfig()
		cfg.WriteGapLimit = 4096
		q, d, _ := newTestQueue(t, cfg)
		blocker := block(t, q, d)

		var ptr tracker
		w0 := NewWrite(0, pattern(4096, 'a'))
		p := NewPlaceholder(4096, 4096, ptr.opts()...)
		w1 := NewWrite(8192, pattern(4096, 'b'))
		submit(t, q, w0)
		submit(t, q, p)
		submit(t, q, w1)
		complete(q, blocker, nil)

		units := d.take()
		require.Len(t, units, 1)
		agg := units[0].(*Aggregate)
		assert.Equal(t, int64(12288), agg.Size())
		assert.Equal(t, []*Request{w0, p, w1}, agg.Children())

		segs := agg.Segments()
		require.Len(t, segs, 3)
		assert.Equal(t, SegmentZero, segs[1].Kind)
		assert.Equal(t, make([]byte, 4096), segs[1].Data)
		assert.Equal(t, int32(1), ptr.done.Load())

		complete(q, agg, nil)
		assert.Equal(t, int32(1), ptr.release.Load())
	})

	t.Run("TrimmedWithZeroGapLimit", func(t *testing.T) {
		cfg := testConfig()
		cfg.WriteGapLimit = 0
		cfg.RampRate = 4
		q, d, _ := newTestQueue(t, cfg)
		blocker := block(t, q, d)

		var ptr tracker
		w0 := NewWrite(0, pattern(4096, 'a'))
		p := NewPlaceholder(4096, 4096, ptr.opts()...)
		w1 := NewWrite(8192, pattern(4096, 'b'))
		submit(t, q, w0)
		submit(t, q, p)
		submit(t, q, w1)
		complete(q, blocker, nil)

		assert.Equal(t, []Unit{w0, w1}, d.take())
		assert.Equal(t, int32(1), ptr.done.Load())
		assert.Equal(t, int32(1), ptr.release.Load())

		st := q.Stats()
		assert.Equal(t, uint64(1), st.Dropped)
		assert.Zero(t, st.Aggregates)
		assert.Equal(t, 0, st.Queued)
	})
}

func TestPassthrough(t *testing.T) {
	cfg := testConfig()
	q, d, _ := newTestQueue(t, cfg)
	block(t, q, d)

	var tr tracker
	r := NewWrite(0, pattern(4096, 'x'), append(tr.opts(), WithFlags(FlagDontQueue))...)
	assert.Same(t, r, submit(t, q, r), "unqueued requests ignore admission")
	assert.Equal(t, []Unit{r}, d.take())
	assert.Equal(t, 1, q.Stats().Pending, "unqueued requests are not pending")

	complete(q, r, nil)
	assert.Equal(t, int32(1), tr.done.Load())
	assert.Equal(t, int32(1), tr.release.Load())

	st := q.Stats()
	assert.Equal(t, uint64(1), st.Passthrough)
	assert.Equal(t, uint64(1), st.Completed)
}

func TestAggregateErrorPropagates(t *testing.T) {
	q, d, _ := newTestQueue(t, testConfig())
	blocker := block(t, q, d)

	devErr := errors.New("medium error")
	var seen []error
	onRelease := WithRelease(func(r *Request) { seen = append(seen, r.Err()) })
	submit(t, q, NewRead(0, make([]byte, 4096), onRelease))
	submit(t, q, NewRead(4096, make([]byte, 4096), onRelease))
	complete(q, blocker, nil)

	units := d.take()
	require.Len(t, units, 1)
	complete(q, units[0], devErr)
	assert.Equal(t, []error{devErr, devErr}, seen)
}

func TestDoubleCompletion(t *testing.T) {
	t.Run("Request", func(t *testing.T) {
		q, d, _ := newTestQueue(t, testConfig())
		var tr tracker
		r := NewRead(0, make([]byte, 4096), tr.opts()...)
		submit(t, q, r)
		d.take()

		complete(q, r, nil)
		complete(q, r, nil)
		assert.Equal(t, int32(1), tr.done.Load())
		assert.Equal(t, int32(1), tr.release.Load())
		assert.Equal(t, uint64(1), q.Stats().Completed)
	})

	t.Run("Aggregate", func(t *testing.T) {
		alloc := &failAllocator{}
		cfg := testConfig()
		cfg.VectorEnabled = false
		q, d, _ := newTestQueue(t, cfg, WithAllocator(alloc))
		blocker := block(t, q, d)
		submit(t, q, NewRead(0, make([]byte, 4096)))
		submit(t, q, NewRead(4096, make([]byte, 4096)))
		complete(q, blocker, nil)

		units := d.take()
		require.Len(t, units, 1)
		complete(q, units[0], nil)
		complete(q, units[0], nil)
		assert.Zero(t, alloc.scratch.Load(), "scratch freed exactly once")
		assert.Equal(t, uint64(2), q.Stats().Completed)
	})
}

func TestSubmitFromDone(t *testing.T) {
	var q *Queue
	drv := DriverFunc(func(u Unit) { q.OnComplete(u) })
	var err error
	q, err = New(DefaultConfig(), drv)
	require.NoError(t, err)

	var second tracker
	r2 := NewRead(8192, make([]byte, 4096), second.opts()...)
	r1 := NewRead(0, make([]byte, 4096), WithDone(func(*Request) {
		_, err := q.Submit(r2)
		assert.NoError(t, err)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := q.Submit(r1)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit from a done callback deadlocked")
	}
	assert.Equal(t, int32(1), second.done.Load())
	assert.Equal(t, int32(1), second.release.Load())
}

func TestAllocationFallback(t *testing.T) {
	setup := func(t *testing.T, alloc *failAllocator, vector bool) (*Queue, *holdDriver, *countingMetrics) {
		cfg := testConfig()
		cfg.VectorEnabled = vector
		m := newCountingMetrics()
		q, d, _ := newTestQueue(t, cfg, WithAllocator(alloc), WithMetrics(m))
		blocker := block(t, q, d)
		submit(t, q, NewWrite(0, pattern(4096, 'a')))
		submit(t, q, NewWrite(4096, pattern(4096, 'b')))
		complete(q, blocker, nil)
		return q, d, m
	}

	t.Run("VectorToBuffered", func(t *testing.T) {
		q, d, m := setup(t, &failAllocator{failVector: true}, true)
		units := d.take()
		require.Len(t, units, 1)
		agg := units[0].(*Aggregate)
		assert.False(t, agg.Vectored())
		assert.Equal(t, 1, m.fallbacks["vector"])
		assert.Equal(t, uint64(1), q.Stats().AllocFallbacks)
	})

	t.Run("BufferedToSingle", func(t *testing.T) {
		q, d, m := setup(t, &failAllocator{failScratch: true}, false)
		units := d.take()
		require.Len(t, units, 1)
		r, ok := units[0].(*Request)
		require.True(t, ok)
		assert.Equal(t, int64(0), r.Offset())
		assert.Equal(t, 1, m.fallbacks["scratch"])
		assert.Equal(t, 1, q.Stats().QueuedWrites, "the rest of the run stays queued")
	})

	t.Run("BothStagesFail", func(t *testing.T) {
		q, d, m := setup(t, &failAllocator{failVector: true, failScratch: true}, true)
		require.Len(t, d.take(), 1)
		assert.Equal(t, 1, m.fallbacks["vector"])
		assert.Equal(t, 1, m.fallbacks["scratch"])
		assert.Equal(t, uint64(2), q.Stats().AllocFallbacks)
	})
}

func TestVectorLimitsForceBuffered(t *testing.T) {
	tests := []struct {
		name         string
		maxSegments  int
		maxBytes     int64
		offsets      []int64
		wantVectored bool
		wantSize     int64
	}{
		{"within limits", 3, 12288, []int64{0, 4096, 8192}, true, 12288},
		{"too many segments", 2, 128 << 10, []int64{0, 4096, 8192}, false, 12288},
		{"filler counts as a segment", 2, 128 << 10, []int64{0, 8192}, false, 12288},
		{"too many bytes", 16, 8192, []int64{0, 4096, 8192}, false, 12288},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxVectorSegments = tt.maxSegments
			cfg.MaxVectorBytes = tt.maxBytes
			alloc := &failAllocator{}
			m := newCountingMetrics()
			q, d, _ := newTestQueue(t, cfg, WithAllocator(alloc), WithMetrics(m))
			blocker := block(t, q, d)

			reqs := make([]*Request, 0, len(tt.offsets))
			for _, off := range tt.offsets {
				r := NewRead(off, make([]byte, 4096))
				submit(t, q, r)
				reqs = append(reqs, r)
			}
			complete(q, blocker, nil)

			units := d.take()
			require.Len(t, units, 1)
			agg := units[0].(*Aggregate)
			assert.Equal(t, tt.wantVectored, agg.Vectored())
			assert.Equal(t, tt.wantSize, agg.Size())
			assert.Len(t, agg.Children(), len(tt.offsets))
			assert.Zero(t, m.fallbacks["vector"], "limits are not an allocation failure")

			if sb, ok := agg.Backing().(*ScratchBacking); ok {
				for i := range sb.Bytes() {
					sb.Bytes()[i] = byte(i/4096 + 1)
				}
			} else {
				for i, seg := range agg.Segments() {
					if seg.Kind == SegmentData {
						copy(seg.Data, pattern(len(seg.Data), byte(i+1)))
					}
				}
			}
			complete(q, agg, nil)

			for _, r := range reqs {
				require.NoError(t, r.Err())
				assert.NotEqual(t, make([]byte, 4096), r.Buffer(), "read at %d got no data", r.Offset())
			}
			if !tt.wantVectored {
				for _, r := range reqs {
					assert.Equal(t, pattern(4096, byte(r.Offset()/4096+1)), r.Buffer())
				}
				assert.Equal(t, uint64(1), q.Stats().Buffered)
			} else {
				assert.Equal(t, uint64(1), q.Stats().Vectored)
			}
			assert.Zero(t, alloc.scratch.Load())
			assert.Zero(t, alloc.vectors.Load())
		})
	}
}

func TestBufferedReadFailureStillCopiesBack(t *testing.T) {
	tests := []struct {
		name  string
		reads [][2]int64 // offset, size
	}{
		{"adjacent", [][2]int64{{0, 4096}, {4096, 4096}}},
		{"bridged hole", [][2]int64{{0, 4096}, {8192, 4096}}},
		{"overlapping", [][2]int64{{0, 8192}, {4096, 4096}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.VectorEnabled = false
			alloc := &failAllocator{}
			q, d, _ := newTestQueue(t, cfg, WithAllocator(alloc))
			blocker := block(t, q, d)

			devErr := errors.New("short read")
			type result struct {
				err error
				buf []byte
			}
			released := map[int64]result{}
			onRelease := WithRelease(func(r *Request) {
				released[r.Offset()] = result{r.Err(), append([]byte(nil), r.Buffer()...)}
			})
			for _, rd := range tt.reads {
				submit(t, q, NewRead(rd[0], make([]byte, rd[1]), onRelease))
			}
			complete(q, blocker, nil)

			units := d.take()
			require.Len(t, units, 1)
			agg := units[0].(*Aggregate)
			require.False(t, agg.Vectored())

			// Whatever the device transferred before failing is still handed over.
			scratch := agg.Backing().(*ScratchBacking).Bytes()
			for i := range scratch {
				scratch[i] = byte(i/4096 + 1)
			}
			want := append([]byte(nil), scratch...)
			complete(q, agg, devErr)

			require.Len(t, released, len(tt.reads))
			for _, rd := range tt.reads {
				got := released[rd[0]]
				assert.ErrorIs(t, got.err, devErr, "read at %d", rd[0])
				assert.Equal(t, want[rd[0]-agg.Offset():rd[0]-agg.Offset()+rd[1]], got.buf, "read at %d", rd[0])
			}
			assert.Zero(t, alloc.scratch.Load(), "scratch is freed on failure")
			assert.Equal(t, uint64(2), q.Stats().Completed, "blocker and aggregate")
		})
	}
}

func TestBufferedWriteFill(t *testing.T) {
	cfg := testConfig()
	cfg.VectorEnabled = false
	alloc := &failAllocator{}
	q, d, _ := newTestQueue(t, cfg, WithAllocator(alloc))
	blocker := block(t, q, d)

	submit(t, q, NewWrite(0, pattern(4096, 'a')))
	submit(t, q, NewPlaceholder(4096, 4096))
	submit(t, q, NewWrite(8192, pattern(4096, 'b')))
	complete(q, blocker, nil)

	units := d.take()
	require.Len(t, units, 1)
	agg := units[0].(*Aggregate)
	got := agg.Backing().(*ScratchBacking).Bytes()
	assert.Equal(t, pattern(4096, 'a'), got[:4096])
	assert.Equal(t, make([]byte, 4096), got[4096:8192], "placeholder range is zeroed")
	assert.Equal(t, pattern(4096, 'b'), got[8192:])

	complete(q, agg, nil)
	assert.Zero(t, alloc.scratch.Load())
}

func TestOverlapForcesBuffered(t *testing.T) {
	q, d, _ := newTestQueue(t, testConfig())
	blocker := block(t, q, d)

	big := NewRead(0, make([]byte, 8192))
	inner := NewRead(4096, make([]byte, 4096))
	submit(t, q, big)
	submit(t, q, inner)
	complete(q, blocker, nil)

	units := d.take()
	require.Len(t, units, 1)
	agg := units[0].(*Aggregate)
	assert.False(t, agg.Vectored())
	assert.Equal(t, int64(8192), agg.Size())

	buf := agg.Backing().(*ScratchBacking).Bytes()
	for i := range buf {
		buf[i] = byte(i / 4096)
	}
	complete(q, agg, nil)
	assert.Equal(t, append(pattern(4096, 0), pattern(4096, 1)...), big.Buffer())
	assert.Equal(t, pattern(4096, 1), inner.Buffer())
}

func TestMetricsHooks(t *testing.T) {
	m := newCountingMetrics()
	q, d, _ := newTestQueue(t, testConfig(), WithMetrics(m))
	blocker := block(t, q, d)

	submit(t, q, NewRead(0, make([]byte, 4096)))
	submit(t, q, NewRead(4096, make([]byte, 4096)))
	complete(q, blocker, errors.New("boom"))

	assert.Equal(t, []string{"single", "vectored"}, m.backings)
	assert.Equal(t, 2, m.bypasses["absorbed"])
	assert.Equal(t, 2, m.throttles["limit"])
	assert.Equal(t, 1, m.failures)
	assert.Zero(t, m.lastQueued)
}

func TestSetConfig(t *testing.T) {
	cfg := testConfig()
	q, d, _ := newTestQueue(t, cfg)
	block(t, q, d)
	submit(t, q, NewRead(1<<20, make([]byte, 4096)))
	assert.Empty(t, d.take())

	bad := cfg
	bad.MaxPending = 0
	assert.ErrorIs(t, q.SetConfig(bad), ErrInvalidConfig)

	cfg.MinPending = 2
	require.NoError(t, q.SetConfig(cfg))
	assert.Len(t, d.take(), 1, "raising the limit releases queued work")
	assert.Equal(t, 2, q.Config().MinPending)
}

func TestConcurrentExactlyOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPending = 6
	cfg.FuturePending = 3

	var (
		q        *Queue
		inflight atomic.Int32
		maxSeen  atomic.Int32
	)
	drv := DriverFunc(func(u Unit) {
		n := inflight.Add(1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		go func() {
			time.Sleep(time.Duration(rand.IntN(50)) * time.Microsecond)
			inflight.Add(-1)
			q.OnComplete(u)
		}()
	})
	var err error
	q, err = New(cfg, drv)
	require.NoError(t, err)

	const workers, perWorker = 8, 200
	trs := make([]tracker, workers*perWorker)
	var released sync.WaitGroup
	released.Add(len(trs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr := &trs[w*perWorker+i]
				opts := []RequestOption{
					WithDone(func(*Request) { tr.done.Add(1) }),
					WithRelease(func(*Request) { tr.release.Add(1); released.Done() }),
					WithPriority(rand.IntN(3)),
				}
				off := int64(rand.IntN(64)) * 4096
				var r *Request
				switch rand.IntN(5) {
				case 0:
					r = NewPlaceholder(off, 4096, opts...)
				case 1, 2:
					r = NewWrite(off, make([]byte, 4096*(1+rand.IntN(2))), opts...)
				default:
					r = NewRead(off, make([]byte, 4096*(1+rand.IntN(2))), opts...)
				}
				_, err := q.Submit(r)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	finished := make(chan struct{})
	go func() {
		released.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(20 * time.Second):
		t.Fatalf("requests still outstanding: %+v", q.Stats())
	}

	for i := range trs {
		require.Equal(t, int32(1), trs[i].done.Load(), "request %d done count", i)
		require.Equal(t, int32(1), trs[i].release.Load(), "request %d release count", i)
	}
	assert.LessOrEqual(t, int(maxSeen.Load()), cfg.MaxPending)

	st := q.Stats()
	assert.Equal(t, 0, st.Queued)
	assert.LessOrEqual(t, st.MaxPendingSeen, cfg.MaxPending)
	assert.Equal(t, uint64(len(trs)), st.Submitted)
}
