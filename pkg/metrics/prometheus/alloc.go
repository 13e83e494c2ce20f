package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/vdevq/pkg/bufpool"
	"github.com/marmos91/vdevq/pkg/metrics"
)

// RegisterAllocator exports the usage of a backing allocator as gauges
// sampled at scrape time. It is a no-op when metrics are disabled.
func RegisterAllocator(name string, a *bufpool.Allocator) {
	if !metrics.IsEnabled() || a == nil {
		return
	}

	f := promauto.With(metrics.GetRegistry())
	labels := prometheus.Labels{"allocator": name}

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "vdevq_alloc_scratch_bytes",
			Help:        "Scratch bytes currently handed out for buffered aggregates",
			ConstLabels: labels,
		},
		func() float64 { return float64(a.Usage().ScratchBytes) },
	)
	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "vdevq_alloc_vector_segments",
			Help:        "Segment list entries currently reserved for vectored aggregates",
			ConstLabels: labels,
		},
		func() float64 { return float64(a.Usage().VectorSegments) },
	)
	f.NewCounterFunc(
		prometheus.CounterOpts{
			Name:        "vdevq_alloc_failures_total",
			Help:        "Allocations refused because a budget was exhausted",
			ConstLabels: labels,
		},
		func() float64 { return float64(a.Usage().Failures) },
	)
}
