package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures Pyroscope continuous profiling for a bench run.
type ProfilingConfig struct {
	Enabled bool

	// Version is attached as the "version" tag.
	Version string

	// Endpoint is the Pyroscope server URL (e.g., "http://localhost:4040").
	Endpoint string

	// ProfileTypes lists the profiles to collect; see profileTypes.
	ProfileTypes []string

	// Device and DeviceKind become static tags on every profile so that runs
	// against different simulated devices can be compared.
	Device     string
	DeviceKind string
}

// profileTypes maps config names to Pyroscope profile types.
var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var profiling atomic.Bool

// InitProfiling starts the Pyroscope profiler when cfg.Enabled. The returned
// function stops it.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profiling.Store(false)
		return func() error { return nil }, nil
	}

	types, err := parseProfileTypes(cfg.ProfileTypes)
	if err != nil {
		return nil, err
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            profileTags(cfg),
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profiling.Store(true)

	return func() error {
		profiling.Store(false)
		return profiler.Stop()
	}, nil
}

// IsProfilingEnabled reports whether the profiler is running.
func IsProfilingEnabled() bool {
	return profiling.Load()
}

// parseProfileTypes resolves names and turns on the runtime sampling that
// mutex and block profiles depend on.
func parseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	types := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("invalid profile type %q", name)
		}
		switch name {
		case "mutex_count", "mutex_duration":
			runtime.SetMutexProfileFraction(5)
		case "block_count", "block_duration":
			runtime.SetBlockProfileRate(5)
		}
		types = append(types, pt)
	}
	return types, nil
}

func profileTags(cfg ProfilingConfig) map[string]string {
	tags := map[string]string{"version": cfg.Version}
	if cfg.Device != "" {
		tags["device"] = cfg.Device
	}
	if cfg.DeviceKind != "" {
		tags["device_kind"] = cfg.DeviceKind
	}
	return tags
}

// WithWorkerLabels runs fn with pprof labels naming the bench pattern and
// worker, so per-worker samples can be split in Pyroscope. Labels apply to
// goroutines started inside fn as well.
func WithWorkerLabels(ctx context.Context, pattern string, worker int, fn func(context.Context)) {
	pyroscope.TagWrapper(ctx, pyroscope.Labels(
		"pattern", pattern,
		"worker", strconv.Itoa(worker),
	), fn)
}
