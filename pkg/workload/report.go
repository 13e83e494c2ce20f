package workload

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/marmos91/vdevq/internal/bytesize"
	"github.com/marmos91/vdevq/pkg/bufpool"
	"github.com/marmos91/vdevq/pkg/vdevq"
)

// ErrNotExactlyOnce is returned by Verify when a request completed twice or
// never completed.
var ErrNotExactlyOnce = errors.New("workload: completion was not exactly once")

// Report summarizes a run.
type Report struct {
	RunID   string  `json:"run_id" yaml:"run_id"`
	Device  string  `json:"device,omitempty" yaml:"device,omitempty"`
	Pattern Pattern `json:"pattern" yaml:"pattern"`
	Workers int     `json:"workers" yaml:"workers"`

	Requests     int64 `json:"requests" yaml:"requests"`
	Reads        int64 `json:"reads" yaml:"reads"`
	Writes       int64 `json:"writes" yaml:"writes"`
	Placeholders int64 `json:"placeholders" yaml:"placeholders"`
	Bytes        int64 `json:"bytes" yaml:"bytes"`
	Errors       int64 `json:"errors" yaml:"errors"`
	Duplicates   int64 `json:"duplicates" yaml:"duplicates"`
	Missing      int64 `json:"missing" yaml:"missing"`

	Queue        vdevq.Stats `json:"queue" yaml:"queue"`
	MeanChildren float64     `json:"mean_children" yaml:"mean_children"`

	ElapsedMs     float64 `json:"elapsed_ms" yaml:"elapsed_ms"`
	IOPS          float64 `json:"iops" yaml:"iops"`
	ThroughputMiB float64 `json:"throughput_mib_s" yaml:"throughput_mib_s"`
	LatencyP50Ms  float64 `json:"latency_p50_ms" yaml:"latency_p50_ms"`
	LatencyP99Ms  float64 `json:"latency_p99_ms" yaml:"latency_p99_ms"`
	LatencyMaxMs  float64 `json:"latency_max_ms" yaml:"latency_max_ms"`

	Alloc *bufpool.Usage `json:"alloc,omitempty" yaml:"alloc,omitempty"`
}

func (t *tracker) report(spec Spec, st vdevq.Stats, elapsed time.Duration, settled bool) *Report {
	r := &Report{
		Pattern:      spec.Pattern,
		Workers:      spec.Workers,
		Requests:     t.accepted.Load(),
		Reads:        t.reads.Load(),
		Writes:       t.writes.Load(),
		Placeholders: t.placeholders.Load(),
		Bytes:        t.bytes.Load(),
		Errors:       t.errors.Load(),
		Duplicates:   t.duplicates.Load(),
		Queue:        st,
		ElapsedMs:    ms(elapsed),
	}

	var completed int64
	for i := range t.done {
		if t.done[i].Load() > 0 {
			completed++
		}
	}
	r.Missing = max(0, r.Requests-completed)

	if st.Aggregates > 0 {
		r.MeanChildren = float64(st.Absorbed) / float64(st.Aggregates)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.IOPS = float64(r.Requests) / secs
		r.ThroughputMiB = float64(r.Bytes) / float64(bytesize.MiB) / secs
	}

	// Latencies are only stable once every release has run.
	if settled {
		lat := make([]time.Duration, 0, len(t.latency))
		for i, d := range t.latency {
			if t.released[i].Load() > 0 {
				lat = append(lat, d)
			}
		}
		slices.Sort(lat)
		r.LatencyP50Ms = ms(percentile(lat, 0.50))
		r.LatencyP99Ms = ms(percentile(lat, 0.99))
		if len(lat) > 0 {
			r.LatencyMaxMs = ms(lat[len(lat)-1])
		}
	}
	return r
}

// Verify returns ErrNotExactlyOnce unless every accepted request completed
// exactly once.
func (r *Report) Verify() error {
	if r.Duplicates > 0 || r.Missing > 0 {
		return fmt.Errorf("%w: %d duplicate, %d missing", ErrNotExactlyOnce, r.Duplicates, r.Missing)
	}
	return nil
}

// Headers implements output.TableRenderer.
func (r *Report) Headers() []string {
	return []string{"METRIC", "VALUE"}
}

// Rows implements output.TableRenderer.
func (r *Report) Rows() [][]string {
	itoa := func(v int64) string { return strconv.FormatInt(v, 10) }
	utoa := func(v uint64) string { return strconv.FormatUint(v, 10) }
	ftoa := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

	rows := [][]string{
		{"Run", r.RunID},
		{"Device", r.Device},
		{"Pattern", string(r.Pattern)},
		{"Workers", strconv.Itoa(r.Workers)},
		{"Requests", itoa(r.Requests)},
		{"Reads / writes", itoa(r.Reads) + " / " + itoa(r.Writes)},
		{"Placeholders", itoa(r.Placeholders)},
		{"Bytes", bytesize.ByteSize(r.Bytes).Human()},
		{"Errors", itoa(r.Errors)},
		{"Dispatched", utoa(r.Queue.Dispatched)},
		{"Aggregates", utoa(r.Queue.Aggregates)},
		{"Vectored / buffered", utoa(r.Queue.Vectored) + " / " + utoa(r.Queue.Buffered)},
		{"Mean children", ftoa(r.MeanChildren)},
		{"Dropped placeholders", utoa(r.Queue.Dropped)},
		{"Throttled", utoa(r.Queue.Throttled + r.Queue.FutureThrottled)},
		{"Alloc fallbacks", utoa(r.Queue.AllocFallbacks)},
		{"Max pending", strconv.Itoa(r.Queue.MaxPendingSeen)},
		{"Elapsed (ms)", ftoa(r.ElapsedMs)},
		{"IOPS", ftoa(r.IOPS)},
		{"Throughput (MiB/s)", ftoa(r.ThroughputMiB)},
		{"Latency p50 / p99 / max (ms)", ftoa(r.LatencyP50Ms) + " / " + ftoa(r.LatencyP99Ms) + " / " + ftoa(r.LatencyMaxMs)},
	}
	if r.Alloc != nil {
		rows = append(rows,
			[]string{"Scratch in use", bytesize.ByteSize(r.Alloc.ScratchBytes).Human()},
			[]string{"Alloc failures", itoa(r.Alloc.Failures)})
	}
	if r.Duplicates > 0 || r.Missing > 0 {
		rows = append(rows, []string{"Exactly-once violations", itoa(r.Duplicates + r.Missing)})
	}
	return rows
}

// percentile returns the p-quantile of sorted by nearest rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(p*float64(len(sorted))+0.5) - 1
	return sorted[min(max(i, 0), len(sorted)-1)]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
