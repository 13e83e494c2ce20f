package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/vdevq/pkg/metrics"
	"github.com/marmos91/vdevq/pkg/simdev"
)

type deviceCollectors struct {
	transfers *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	segments  *prometheus.HistogramVec
	duration  *prometheus.HistogramVec
	inflight  *prometheus.GaugeVec
}

var (
	deviceMu         sync.Mutex
	deviceByRegistry = map[*prometheus.Registry]*deviceCollectors{}
)

func deviceCollectorsFor(reg *prometheus.Registry) *deviceCollectors {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if c, ok := deviceByRegistry[reg]; ok {
		return c
	}

	f := promauto.With(reg)
	c := &deviceCollectors{
		transfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdevq_device_transfers_total",
				Help: "Physical transfers serviced by the simulated device",
			},
			[]string{"device", "op", "status"}, // status: "ok", "error"
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdevq_device_bytes_total",
				Help: "Bytes moved by the simulated device",
			},
			[]string{"device", "op"},
		),
		segments: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vdevq_device_segments",
				Help:    "Scatter/gather segments per transfer",
				Buckets: []float64{1, 2, 4, 8, 16, 32},
			},
			[]string{"device", "op"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "vdevq_device_service_milliseconds",
				Help: "Time the device spent servicing a transfer in milliseconds",
				Buckets: []float64{
					0.01, // 10us - memory copy
					0.1,
					1,
					5,
					10,
					50,
					100,
					500,
				},
			},
			[]string{"device", "op"},
		),
		inflight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vdevq_device_inflight",
				Help: "Transfers currently being serviced",
			},
			[]string{"device"},
		),
	}
	deviceByRegistry[reg] = c
	return c
}

type deviceMetrics struct {
	c *deviceCollectors
}

// NewDeviceMetrics creates a simdev.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDeviceMetrics() simdev.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return &deviceMetrics{c: deviceCollectorsFor(metrics.GetRegistry())}
}

func (m *deviceMetrics) ObserveTransfer(device, op string, bytes int64, segments int, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.c.transfers.WithLabelValues(device, op, status).Inc()
	m.c.bytes.WithLabelValues(device, op).Add(float64(bytes))
	m.c.segments.WithLabelValues(device, op).Observe(float64(segments))
	m.c.duration.WithLabelValues(device, op).Observe(latency.Seconds() * 1000)
}

func (m *deviceMetrics) SetInflight(device string, n int) {
	m.c.inflight.WithLabelValues(device).Set(float64(n))
}
