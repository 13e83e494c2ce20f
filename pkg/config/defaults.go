package config

import (
	"strings"
	"time"

	"github.com/marmos91/vdevq/internal/bytesize"
	"github.com/marmos91/vdevq/pkg/simdev"
	"github.com/marmos91/vdevq/pkg/vdevq"
	"github.com/marmos91/vdevq/pkg/workload"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyMetricsDefaults(&cfg.Metrics)
	applyQueueDefaults(&cfg.Queue)
	applyDeviceDefaults(&cfg.Device)
	applyWorkloadDefaults(&cfg.Workload, cfg.Device.Size)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.MinPending == 0 {
		cfg.MinPending = vdevq.DefaultMinPending
	}
	if cfg.MaxPending == 0 {
		cfg.MaxPending = vdevq.DefaultMaxPending
	}
	if cfg.FuturePending == 0 {
		cfg.FuturePending = vdevq.DefaultFuturePending
	}
	if cfg.RampRate == 0 {
		cfg.RampRate = vdevq.DefaultRampRate
	}
	if cfg.TimeShift == nil {
		shift := uint(vdevq.DefaultTimeShift)
		cfg.TimeShift = &shift
	}
	if cfg.AggregationLimit == 0 {
		cfg.AggregationLimit = vdevq.DefaultAggregationLimit
	}
	if cfg.ReadGapLimit == nil {
		gap := bytesize.ByteSize(vdevq.DefaultReadGapLimit)
		cfg.ReadGapLimit = &gap
	}
	if cfg.WriteGapLimit == nil {
		gap := bytesize.ByteSize(vdevq.DefaultWriteGapLimit)
		cfg.WriteGapLimit = &gap
	}
	if cfg.MaxVectorSegments == 0 {
		cfg.MaxVectorSegments = vdevq.DefaultMaxVectorSegments
	}
	if cfg.MaxVectorBytes == 0 {
		cfg.MaxVectorBytes = vdevq.DefaultMaxVectorBytes
	}
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.Kind == "" {
		cfg.Kind = "mem"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Kind + "0"
	}
	if cfg.Size == 0 {
		cfg.Size = 256 * bytesize.MiB
	}
	if cfg.Workers == 0 {
		cfg.Workers = simdev.DefaultWorkers
	}
}

func applyWorkloadDefaults(cfg *WorkloadConfig, deviceSize bytesize.ByteSize) {
	d := workload.DefaultSpec()
	if cfg.Pattern == "" {
		cfg.Pattern = string(d.Pattern)
	}
	if cfg.Requests == 0 {
		cfg.Requests = d.Requests
	}
	if cfg.Workers == 0 {
		cfg.Workers = d.Workers
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = bytesize.ByteSize(d.BlockSize)
	}
	if cfg.MinSize == 0 {
		cfg.MinSize = max(cfg.BlockSize, bytesize.ByteSize(d.MinSize))
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = max(cfg.MinSize, bytesize.ByteSize(d.MaxSize))
	}
	if cfg.Stride == 0 {
		cfg.Stride = bytesize.ByteSize(d.Stride)
	}
	if cfg.Region == 0 {
		cfg.Region = deviceSize
	}
	if cfg.ReadRatio == nil {
		r := d.ReadRatio
		cfg.ReadRatio = &r
	}
	if cfg.Priorities == 0 {
		cfg.Priorities = d.Priorities
	}
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
