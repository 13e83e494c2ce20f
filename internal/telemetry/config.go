package telemetry

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported to the trace and profiling backends.
const ServiceName = "vdevq"

// Config configures tracing for one bench process.
type Config struct {
	Enabled bool

	// Version is the build version attached to the resource.
	Version string

	// Endpoint is the OTLP gRPC collector (e.g., "localhost:4317").
	Endpoint string

	// Insecure dials the collector without TLS.
	Insecure bool

	// SampleRate is the fraction of root spans kept (0.0 to 1.0).
	SampleRate float64

	// Device and DeviceKind describe the simulated device under test. They
	// are resource attributes, so every span of the run carries them.
	Device     string
	DeviceKind string
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		Version:    "dev",
		Endpoint:   "localhost:4317",
		Insecure:   true,
		SampleRate: 1.0,
	}
}

// sampler maps SampleRate onto a parent-based head sampler, so worker and
// transfer spans follow the decision taken for their bench run.
func (c Config) sampler() sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case c.SampleRate >= 1.0:
		root = sdktrace.AlwaysSample()
	case c.SampleRate <= 0.0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(c.SampleRate)
	}
	return sdktrace.ParentBased(root)
}
