package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/vdevq/internal/bytesize"
	"github.com/marmos91/vdevq/pkg/simdev"
	"github.com/marmos91/vdevq/pkg/vdevq"
	"github.com/marmos91/vdevq/pkg/workload"
)

// Config represents the vdevq configuration.
//
// It covers the ambient settings (logging, telemetry, metrics), the queue
// tunables, the simulated device and the bench workload.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (VDEVQ_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds how long the bench waits for in-flight I/O and
	// the metrics server on exit
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Queue holds the scheduler and aggregation tunables
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Device describes the simulated device behind the queue
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Workload describes the bench request stream
	Workload WorkloadConfig `mapstructure:"workload" yaml:"workload"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, every simulated device transfer and bench run becomes a
// span exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics, /health and /stats
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// QueueConfig holds the queue tunables. Sizes accept units ("128KiB").
type QueueConfig struct {
	// MinPending is the admission limit on submit
	// Default: 4
	MinPending int `mapstructure:"min_pending" validate:"gte=1,ltefield=MaxPending" yaml:"min_pending"`

	// MaxPending is the admission limit when ramping after a completion
	// Default: 10
	MaxPending int `mapstructure:"max_pending" validate:"gte=2" yaml:"max_pending"`

	// FuturePending caps pending transfers while the earliest deadline is
	// in the future
	// Default: 8
	FuturePending int `mapstructure:"future_pending" validate:"gte=1,ltfield=MaxPending" yaml:"future_pending"`

	// RampRate is the number of extra selections per completion
	// Default: 2
	RampRate int `mapstructure:"ramp_rate" validate:"gte=1" yaml:"ramp_rate"`

	// TimeShift converts milliseconds to deadline ticks (ms >> shift).
	// An explicit 0 schedules in whole milliseconds.
	// Default: 6
	TimeShift *uint `mapstructure:"time_shift" validate:"omitempty,lte=32" yaml:"time_shift"`

	// AggregationLimit is the largest span of one aggregate
	// Default: 128KiB
	AggregationLimit bytesize.ByteSize `mapstructure:"aggregation_limit" yaml:"aggregation_limit"`

	// ReadGapLimit is the largest hole a read aggregate may bridge; 0 only
	// merges adjacent reads
	// Default: 32KiB
	ReadGapLimit *bytesize.ByteSize `mapstructure:"read_gap_limit" yaml:"read_gap_limit"`

	// WriteGapLimit is how far placeholder writes may bridge; 0 disables
	// bridging
	// Default: 4KiB
	WriteGapLimit *bytesize.ByteSize `mapstructure:"write_gap_limit" yaml:"write_gap_limit"`

	// BufferedOnly disables vectored aggregates
	BufferedOnly bool `mapstructure:"buffered_only" yaml:"buffered_only"`

	// MaxVectorSegments and MaxVectorBytes bound a vectored aggregate
	// Defaults: 16, 128KiB
	MaxVectorSegments int               `mapstructure:"max_vector_segments" validate:"gte=1" yaml:"max_vector_segments"`
	MaxVectorBytes    bytesize.ByteSize `mapstructure:"max_vector_bytes" yaml:"max_vector_bytes"`

	// ScratchBudget caps scratch memory held by buffered aggregates; zero
	// is unlimited
	ScratchBudget bytesize.ByteSize `mapstructure:"scratch_budget" yaml:"scratch_budget"`

	// VectorBudget caps segment entries held by vectored aggregates; zero
	// is unlimited
	VectorBudget int `mapstructure:"vector_budget" validate:"gte=0" yaml:"vector_budget"`
}

// DeviceConfig describes the simulated device.
type DeviceConfig struct {
	// Kind selects the backend
	// Valid values: mem, file
	Kind string `mapstructure:"kind" validate:"required,oneof=mem file" yaml:"kind"`

	// Name labels the device in logs, metrics and spans
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Path is the backing file for kind "file"
	Path string `mapstructure:"path" validate:"required_if=Kind file" yaml:"path,omitempty"`

	// Size is the device capacity
	// Default: 256MiB
	Size bytesize.ByteSize `mapstructure:"size" validate:"gt=0" yaml:"size"`

	// Workers bounds concurrent transfers
	// Default: 8
	Workers int `mapstructure:"workers" validate:"gte=1" yaml:"workers"`

	// Latency is added to every transfer
	Latency time.Duration `mapstructure:"latency" validate:"gte=0" yaml:"latency"`

	// Bandwidth limits throughput per second; zero is unlimited
	Bandwidth bytesize.ByteSize `mapstructure:"bandwidth" yaml:"bandwidth"`

	// ErrorRate is the fraction of transfers that fail
	ErrorRate float64 `mapstructure:"error_rate" validate:"gte=0,lte=1" yaml:"error_rate"`

	// Seed makes fault injection reproducible; zero picks one at random
	Seed uint64 `mapstructure:"seed" yaml:"seed,omitempty"`
}

// WorkloadConfig describes the bench request stream.
type WorkloadConfig struct {
	// Pattern is sequential, random or strided
	// Default: sequential
	Pattern string `mapstructure:"pattern" validate:"required,oneof=sequential random strided" yaml:"pattern"`

	// Requests is the total number of requests
	// Default: 10000
	Requests int `mapstructure:"requests" validate:"gte=1" yaml:"requests"`

	// Workers is the number of concurrent producers
	// Default: 4
	Workers int `mapstructure:"workers" validate:"gte=1" yaml:"workers"`

	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"gt=0" yaml:"block_size"`
	MinSize   bytesize.ByteSize `mapstructure:"min_size" yaml:"min_size"`
	MaxSize   bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size"`
	Stride    bytesize.ByteSize `mapstructure:"stride" yaml:"stride"`

	// Region is the span of the device the workload touches
	// Default: the device size
	Region bytesize.ByteSize `mapstructure:"region" yaml:"region"`

	// ReadRatio is the fraction of reads
	// Default: 0.5
	ReadRatio *float64 `mapstructure:"read_ratio" validate:"omitempty,gte=0,lte=1" yaml:"read_ratio"`

	// PlaceholderRatio is the fraction of writes issued as placeholders
	PlaceholderRatio float64 `mapstructure:"placeholder_ratio" validate:"gte=0,lte=1" yaml:"placeholder_ratio"`

	// Priorities is the number of distinct priorities drawn
	// Default: 4
	Priorities int `mapstructure:"priorities" validate:"gte=1" yaml:"priorities"`

	// Rate caps submissions per second; zero is unlimited
	Rate float64 `mapstructure:"rate" validate:"gte=0" yaml:"rate"`

	Seed uint64 `mapstructure:"seed" yaml:"seed,omitempty"`
}

// ToQueueConfig converts the queue section to vdevq tunables.
func (c QueueConfig) ToQueueConfig() vdevq.Config {
	return vdevq.Config{
		MinPending:        c.MinPending,
		MaxPending:        c.MaxPending,
		FuturePending:     c.FuturePending,
		RampRate:          c.RampRate,
		TimeShift:         deref(c.TimeShift, vdevq.DefaultTimeShift),
		AggregationLimit:  c.AggregationLimit.Int64(),
		ReadGapLimit:      deref(c.ReadGapLimit, vdevq.DefaultReadGapLimit).Int64(),
		WriteGapLimit:     deref(c.WriteGapLimit, vdevq.DefaultWriteGapLimit).Int64(),
		VectorEnabled:     !c.BufferedOnly,
		MaxVectorSegments: c.MaxVectorSegments,
		MaxVectorBytes:    c.MaxVectorBytes.Int64(),
	}
}

// deref returns *p, or def when the key was never set.
func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// ToOptions converts the device section to simdev options. m may be nil.
func (c DeviceConfig) ToOptions(m simdev.Metrics) simdev.Options {
	return simdev.Options{
		Workers:   c.Workers,
		Latency:   c.Latency,
		Bandwidth: c.Bandwidth.Int64(),
		ErrorRate: c.ErrorRate,
		Seed:      c.Seed,
		Metrics:   m,
	}
}

// ToSpec converts the workload section to a workload spec.
func (c WorkloadConfig) ToSpec() workload.Spec {
	s := workload.Spec{
		Pattern:          workload.Pattern(c.Pattern),
		Requests:         c.Requests,
		Workers:          c.Workers,
		BlockSize:        c.BlockSize.Int64(),
		MinSize:          c.MinSize.Int64(),
		MaxSize:          c.MaxSize.Int64(),
		Stride:           c.Stride.Int64(),
		Region:           c.Region.Int64(),
		PlaceholderRatio: c.PlaceholderRatio,
		Priorities:       c.Priorities,
		Rate:             c.Rate,
		Seed:             c.Seed,
	}
	if c.ReadRatio != nil {
		s.ReadRatio = *c.ReadRatio
	}
	return s
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VDEVQ_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location. A missing file yields the
// defaults with environment overrides applied.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages. Unlike Load it
// requires an explicitly given file to exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  vdevq config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: VDEVQ_QUEUE_MAX_PENDING=16
	v.SetEnvPrefix("VDEVQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so every
	// key of the struct is bound up front.
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnvKeys binds every mapstructure key under t.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if name == "" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := f.Type
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Duration(0)) {
			bindEnvKeys(v, ft, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// that config files can say "128KiB", "8 sectors" or 131072.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "250us" or "5s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/vdevq, ~/.config/vdevq, or "." when
// no home directory is available.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "vdevq")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "vdevq")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
