package workload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/marmos91/vdevq/internal/logger"
	"github.com/marmos91/vdevq/internal/telemetry"
	"github.com/marmos91/vdevq/pkg/bufpool"
	"github.com/marmos91/vdevq/pkg/vdevq"
)

// Submitter is the queue surface the runner drives. *vdevq.Queue
// implements it.
type Submitter interface {
	Submit(r *vdevq.Request) (vdevq.Unit, error)
	Stats() vdevq.Stats
}

// UsageFunc samples allocator usage at the end of a run.
type UsageFunc func() bufpool.Usage

// Option configures a Runner.
type Option func(*Runner)

// WithUsage adds allocator usage to the report.
func WithUsage(fn UsageFunc) Option {
	return func(r *Runner) { r.usage = fn }
}

// WithDevice names the device in logs and the report.
func WithDevice(name string) Option {
	return func(r *Runner) { r.device = name }
}

// Runner submits a workload to a queue and reports on it.
type Runner struct {
	q      Submitter
	spec   Spec
	usage  UsageFunc
	device string
}

// NewRunner validates spec and returns a runner for q.
func NewRunner(q Submitter, spec Spec, opts ...Option) (*Runner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{q: q, spec: spec}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run submits every request, waits for all of them to be released and
// returns the report. Requests already submitted are waited for even when a
// worker fails; ctx cancellation abandons the wait.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	ctx, span := telemetry.StartBenchSpan(ctx, telemetry.SpanBenchRun,
		telemetry.RunID(runID),
		telemetry.Pattern(string(r.spec.Pattern)),
		telemetry.Requests(r.spec.Requests),
		telemetry.Device(r.device))
	defer span.End()

	logger.InfoCtx(ctx, "Bench run starting",
		logger.KeyRunID, runID,
		logger.KeyDevice, r.device,
		"pattern", r.spec.Pattern,
		"requests", r.spec.Requests,
		"workers", r.spec.Workers)

	var limiter *rate.Limiter
	if r.spec.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.spec.Rate), r.spec.Workers)
	}

	t := newTracker(r.spec.Requests)
	before := r.q.Stats()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	first := 0
	for w := range r.spec.Workers {
		n := r.spec.Requests / r.spec.Workers
		if w < r.spec.Requests%r.spec.Workers {
			n++
		}
		base := first
		g.Go(func() (err error) {
			telemetry.WithWorkerLabels(gctx, string(r.spec.Pattern), w, func(ctx context.Context) {
				err = r.worker(ctx, w, base, n, limiter, t)
			})
			return err
		})
		first += n
	}
	runErr := g.Wait()

	settled := true
	if err := t.wait(ctx); err != nil {
		settled = false
		if runErr == nil {
			runErr = err
		}
	}
	elapsed := time.Since(start)

	rep := t.report(r.spec, r.q.Stats().Sub(before), elapsed, settled)
	rep.RunID = runID
	rep.Device = r.device
	if r.usage != nil {
		u := r.usage()
		rep.Alloc = &u
	}

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.ErrorCtx(ctx, "Bench run failed", logger.KeyRunID, runID, logger.KeyError, runErr)
		return rep, runErr
	}

	logger.InfoCtx(ctx, "Bench run finished",
		logger.KeyRunID, runID,
		"iops", fmt.Sprintf("%.0f", rep.IOPS),
		"aggregates", rep.Queue.Aggregates,
		logger.KeyDurationMs, elapsed.Milliseconds())
	return rep, rep.Verify()
}

func (r *Runner) worker(ctx context.Context, w, first, n int, limiter *rate.Limiter, t *tracker) error {
	ctx, span := telemetry.StartBenchSpan(ctx, telemetry.SpanBenchWorker,
		telemetry.Worker(w),
		telemetry.Requests(n))
	defer span.End()

	gen := NewGenerator(r.spec, w)
	for i := range n {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		req := t.request(first+i, gen.Next())
		t.outstanding.Add(1)
		if _, err := r.q.Submit(req); err != nil {
			t.abandon(req)
			return fmt.Errorf("worker %d: submit %s: %w", w, req, err)
		}
		t.accepted.Add(1)
	}
	return nil
}

// tracker follows every request of a run through its callbacks.
type tracker struct {
	done      []atomic.Uint32
	released  []atomic.Uint32
	submitted []time.Time
	latency   []time.Duration

	outstanding sync.WaitGroup

	accepted                    atomic.Int64
	reads, writes, placeholders atomic.Int64
	bytes, errors, duplicates   atomic.Int64
}

func newTracker(n int) *tracker {
	return &tracker{
		done:      make([]atomic.Uint32, n),
		released:  make([]atomic.Uint32, n),
		submitted: make([]time.Time, n),
		latency:   make([]time.Duration, n),
	}
}

// request builds the request for op as sequence number i.
func (t *tracker) request(i int, op Op) *vdevq.Request {
	opts := []vdevq.RequestOption{
		vdevq.WithPriority(op.Priority),
		vdevq.WithDone(func(*vdevq.Request) {
			if t.done[i].Add(1) > 1 {
				t.duplicates.Add(1)
			}
		}),
	}

	var buf []byte
	if !op.Placeholder {
		buf = bufpool.Get(int(op.Size))
	}
	opts = append(opts, vdevq.WithRelease(func(req *vdevq.Request) {
		if t.released[i].Add(1) > 1 {
			t.duplicates.Add(1)
			return
		}
		t.latency[i] = time.Since(t.submitted[i])
		if req.Err() != nil {
			t.errors.Add(1)
		}
		if buf != nil {
			bufpool.Put(buf)
		}
		t.outstanding.Done()
	}))

	var req *vdevq.Request
	switch {
	case op.Placeholder:
		t.placeholders.Add(1)
		req = vdevq.NewPlaceholder(op.Offset, op.Size, opts...)
	case op.Type == vdevq.Read:
		t.reads.Add(1)
		req = vdevq.NewRead(op.Offset, buf, opts...)
	default:
		t.writes.Add(1)
		fillPattern(buf, i)
		req = vdevq.NewWrite(op.Offset, buf, opts...)
	}
	t.bytes.Add(op.Size)
	t.submitted[i] = time.Now()
	return req
}

// abandon accounts for a request that Submit rejected.
func (t *tracker) abandon(req *vdevq.Request) {
	if b := req.Buffer(); b != nil {
		bufpool.Put(b)
	}
	t.outstanding.Done()
}

// wait blocks until every submitted request has been released.
func (t *tracker) wait(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		t.outstanding.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for completions: %w", ctx.Err())
	}
}

// fillPattern stamps buf with a pattern derived from the sequence number.
func fillPattern(buf []byte, seq int) {
	for j := range buf {
		buf[j] = byte(seq + j)
	}
}
