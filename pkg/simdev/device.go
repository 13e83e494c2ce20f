package simdev

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/marmos91/vdevq/internal/logger"
	"github.com/marmos91/vdevq/internal/telemetry"
	"github.com/marmos91/vdevq/pkg/vdevq"
)

// Default device options.
const (
	DefaultWorkers = 8

	// bandwidthBurst bounds one limiter reservation. Larger transfers wait
	// in chunks.
	bandwidthBurst = 1 << 20
)

// Metrics receives device transfer events. A nil Metrics disables
// collection.
type Metrics interface {
	// ObserveTransfer is called once per physical transfer.
	ObserveTransfer(device, op string, bytes int64, segments int, latency time.Duration, err error)

	// SetInflight reports the number of transfers being serviced.
	SetInflight(device string, n int)
}

// Completer receives finished units. *vdevq.Queue implements it.
type Completer interface {
	OnComplete(u vdevq.Unit)
}

// Options configures a Device.
type Options struct {
	// Workers bounds concurrent transfers. Dispatched units beyond it wait.
	Workers int

	// Latency is added to every transfer.
	Latency time.Duration

	// Bandwidth limits throughput in bytes per second. Zero is unlimited.
	Bandwidth int64

	// ErrorRate is the probability in [0,1] that a transfer fails with
	// ErrInjected.
	ErrorRate float64

	// Seed makes fault injection reproducible. Zero picks a random seed.
	Seed uint64

	Metrics Metrics
}

// Device adapts a Backend to vdevq.Driver.
type Device struct {
	backend Backend
	opts    Options
	sem     chan struct{}
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	completer Completer
	wg        sync.WaitGroup
	closed    atomic.Bool
	inflight  atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewDevice wraps backend. Attach must be called before the first Dispatch.
func NewDevice(backend Backend, opts Options) *Device {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		backend: backend,
		opts:    opts,
		sem:     make(chan struct{}, opts.Workers),
		ctx:     ctx,
		cancel:  cancel,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	if opts.Bandwidth > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.Bandwidth), bandwidthBurst)
	}
	return d
}

// Attach sets the receiver of completions.
func (d *Device) Attach(c Completer) { d.completer = c }

// Name returns the backend name.
func (d *Device) Name() string { return d.backend.Name() }

// Backend returns the wrapped backend.
func (d *Device) Backend() Backend { return d.backend }

// Dispatch starts the transfer for u and returns immediately.
func (d *Device) Dispatch(u vdevq.Unit) {
	if d.closed.Load() {
		d.finish(u, ErrClosed)
		return
	}
	d.wg.Add(1)
	go d.run(u)
}

func (d *Device) run(u vdevq.Unit) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		d.finish(u, ErrClosed)
		return
	}
	defer func() { <-d.sem }()

	n := d.inflight.Add(1)
	d.setInflight(n)
	err := d.transfer(u)
	d.setInflight(d.inflight.Add(-1))

	d.finish(u, err)
}

func (d *Device) transfer(u vdevq.Unit) error {
	segs := u.Segments()
	op := u.Type().String()

	ctx, span := telemetry.StartTransferSpan(d.ctx, d.Name(), op, u.Offset(), u.Size(),
		transferAttrs(u, len(segs), d.backend.Kind())...)
	defer span.End()

	start := time.Now()
	err := d.service(ctx, u, segs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.ObserveTransfer(d.Name(), op, u.Size(), len(segs), time.Since(start), err)
	}
	return err
}

// service applies the simulated costs and performs the transfer.
func (d *Device) service(ctx context.Context, u vdevq.Unit, segs []vdevq.Segment) error {
	if d.opts.Latency > 0 {
		t := time.NewTimer(d.opts.Latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ErrClosed
		}
	}
	if d.limiter != nil {
		for left := u.Size(); left > 0; left -= bandwidthBurst {
			if err := d.limiter.WaitN(ctx, int(min(left, bandwidthBurst))); err != nil {
				return ErrClosed
			}
		}
	}
	if d.inject() {
		return fmt.Errorf("%w: %s at %d", ErrInjected, u.Type(), u.Offset())
	}

	if u.Type() == vdevq.Read {
		return d.backend.ReadV(ctx, u.Offset(), segs)
	}
	return d.backend.WriteV(ctx, u.Offset(), segs)
}

func (d *Device) inject() bool {
	if d.opts.ErrorRate <= 0 {
		return false
	}
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.Float64() < d.opts.ErrorRate
}

func (d *Device) finish(u vdevq.Unit, err error) {
	if err != nil {
		u.SetErr(err)
		logger.Debug("Transfer failed", logger.KeyDevice, d.Name(), logger.KeyUnitID, u.ID(), logger.KeyError, err)
	}
	if d.completer != nil {
		d.completer.OnComplete(u)
	}
}

func (d *Device) setInflight(n int64) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.SetInflight(d.Name(), int(n))
	}
}

// Close stops accepting work, waits for in-flight transfers and closes the
// backend. Transfers still waiting for a worker or for simulated latency
// fail with ErrClosed.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	d.wg.Wait()
	return d.backend.Close()
}

// transferAttrs describes how a unit is backed: a single request, or an
// aggregate with its children.
func transferAttrs(u vdevq.Unit, segs int, kind string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		telemetry.Segments(segs),
		telemetry.UnitID(u.ID()),
		telemetry.DeviceKind(kind),
	}
	if agg, ok := u.(*vdevq.Aggregate); ok {
		return append(attrs,
			telemetry.Backing(agg.Backing().Name()),
			telemetry.Children(len(agg.Children())))
	}
	return append(attrs, telemetry.Backing("single"), telemetry.Children(1))
}
