package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/vdevq/pkg/metrics"
	"github.com/marmos91/vdevq/pkg/vdevq"
)

// queueCollectors holds the vectors shared by every queue on a registry.
type queueCollectors struct {
	dispatches    *prometheus.CounterVec
	dispatchBytes *prometheus.HistogramVec
	children      *prometheus.HistogramVec
	completions   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	bypasses      *prometheus.CounterVec
	throttles     *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	queued        *prometheus.GaugeVec
	pending       *prometheus.GaugeVec
}

var (
	queueMu         sync.Mutex
	queueByRegistry = map[*prometheus.Registry]*queueCollectors{}
)

func queueCollectorsFor(reg *prometheus.Registry) *queueCollectors {
	queueMu.Lock()
	defer queueMu.Unlock()

	if c, ok := queueByRegistry[reg]; ok {
		return c
	}

	f := promauto.With(reg)
	c := &queueCollectors{
		dispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdevq_dispatches_total",
				Help: "Units handed to the device by type and backing",
			},
			[]string{"device", "type", "backing"}, // backing: "single", "vectored", "buffered"
		),
		dispatchBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "vdevq_dispatch_bytes",
				Help: "Distribution of dispatched transfer sizes",
				Buckets: []float64{
					512,     // 512B - single sector
					4096,    // 4KB
					16384,   // 16KB
					65536,   // 64KB
					131072,  // 128KB - default aggregation limit
					524288,  // 512KB
					1048576, // 1MB
				},
			},
			[]string{"device", "type"},
		),
		children: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vdevq_aggregate_children",
				Help:    "Requests absorbed per dispatched unit",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"device", "type"},
		),
		completions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdevq_completions_total",
				Help: "Completed units by type and status",
			},
			[]string{"device", "type", "status"}, // status: "ok", "error"
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "vdevq_device_latency_milliseconds",
				Help: "Time from dispatch to completion in milliseconds",
				Buckets: []float64{
					0.05, // 50us - memory devices
					0.1,
					0.5,
					1,
					5,
					10, // 10ms - rotating media
					50,
					100,
					500,
				},
			},
			[]string{"device", "type"},
		),
		bypasses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdevq_bypasses_total",
				Help: "Requests completed without a transfer of their own",
			},
			[]string{"device", "type", "reason"}, // reason: "absorbed", "nodata"
		),
		throttles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdevq_throttles_total",
				Help: "Selections refused by admission control",
			},
			[]string{"device", "reason"}, // reason: "limit", "future"
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdevq_alloc_fallbacks_total",
				Help: "Aggregate backing allocations that failed",
			},
			[]string{"device", "stage"}, // stage: "vector", "scratch"
		),
		queued: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vdevq_queued_requests",
				Help: "Requests waiting for selection",
			},
			[]string{"device"},
		),
		pending: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vdevq_pending_units",
				Help: "Units dispatched and not yet complete",
			},
			[]string{"device"},
		),
	}
	queueByRegistry[reg] = c
	return c
}

// queueMetrics is the Prometheus implementation of vdevq.Metrics for one
// device.
type queueMetrics struct {
	c      *queueCollectors
	device string
}

// NewQueueMetrics creates a vdevq.Metrics for device.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewQueueMetrics(device string) vdevq.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return &queueMetrics{c: queueCollectorsFor(metrics.GetRegistry()), device: device}
}

func (m *queueMetrics) ObserveDispatch(typ vdevq.IOType, backing string, bytes int64, children int) {
	t := typ.String()
	m.c.dispatches.WithLabelValues(m.device, t, backing).Inc()
	m.c.dispatchBytes.WithLabelValues(m.device, t).Observe(float64(bytes))
	m.c.children.WithLabelValues(m.device, t).Observe(float64(children))
}

func (m *queueMetrics) ObserveCompletion(typ vdevq.IOType, latency time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.c.completions.WithLabelValues(m.device, typ.String(), status).Inc()
	m.c.latency.WithLabelValues(m.device, typ.String()).Observe(latency.Seconds() * 1000)
}

func (m *queueMetrics) ObserveBypass(typ vdevq.IOType, reason string) {
	m.c.bypasses.WithLabelValues(m.device, typ.String(), reason).Inc()
}

func (m *queueMetrics) ObserveThrottle(reason string) {
	m.c.throttles.WithLabelValues(m.device, reason).Inc()
}

func (m *queueMetrics) ObserveAllocFallback(stage string) {
	m.c.fallbacks.WithLabelValues(m.device, stage).Inc()
}

func (m *queueMetrics) SetDepth(queued, pending int) {
	m.c.queued.WithLabelValues(m.device).Set(float64(queued))
	m.c.pending.WithLabelValues(m.device).Set(float64(pending))
}
