package telemetry

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans routes spans to an in-memory recorder for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	setProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { setProvider(nil) })
	return rec
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dev", cfg.Version)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := Config{SampleRate: tt.rate}.sampler().Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, "root:"+tt.want, "rate %v", tt.rate)
	}
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())

	_, span := StartBenchSpan(ctx, SpanBenchRun, RunID("r1"))
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestNewResourceCarriesDevice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "mem0"
	cfg.DeviceKind = "mem"

	res, err := newResource(context.Background(), cfg)
	require.NoError(t, err)

	set := res.Set()
	v, ok := set.Value(AttrDevice)
	require.True(t, ok)
	assert.Equal(t, "mem0", v.AsString())
	v, ok = set.Value(AttrDeviceKind)
	require.True(t, ok)
	assert.Equal(t, "mem", v.AsString())
	v, ok = set.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, ServiceName, v.AsString())
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		kv   attribute.KeyValue
		key  string
		want any
	}{
		{Device("sda"), AttrDevice, "sda"},
		{Offset(1 << 20), AttrOffset, int64(1 << 20)},
		{Size(131072), AttrSize, int64(131072)},
		{Segments(3), AttrSegments, int64(3)},
		{Backing("vectored"), AttrBacking, "vectored"},
		{Children(5), AttrChildren, int64(5)},
		{UnitID(42), AttrUnitID, int64(42)},
		{Pattern("random"), AttrPattern, "random"},
		{Worker(2), AttrWorker, int64(2)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.key, string(tt.kv.Key))
			assert.Equal(t, tt.want, tt.kv.Value.AsInterface())
		})
	}
}

func TestStartTransferSpan(t *testing.T) {
	rec := recordSpans(t)
	assert.True(t, IsEnabled())

	_, read := StartTransferSpan(context.Background(), "mem0", "read", 0, 4096)
	read.End()
	_, write := StartTransferSpan(context.Background(), "mem0", "write", 8192, 12288,
		Segments(3), Backing("vectored"))
	write.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, SpanDeviceRead, spans[0].Name())
	assert.Equal(t, SpanDeviceWrite, spans[1].Name())

	attrs := attrMap(spans[1].Attributes())
	assert.Equal(t, "mem0", attrs[AttrDevice].AsString())
	assert.Equal(t, int64(8192), attrs[AttrOffset].AsInt64())
	assert.Equal(t, int64(12288), attrs[AttrSize].AsInt64())
	assert.Equal(t, int64(3), attrs[AttrSegments].AsInt64())
	assert.Equal(t, "vectored", attrs[AttrBacking].AsString())
}

func TestBenchSpansNest(t *testing.T) {
	rec := recordSpans(t)

	ctx, run := StartBenchSpan(context.Background(), SpanBenchRun, RunID("r1"), Requests(10))
	_, worker := StartBenchSpan(ctx, SpanBenchWorker, Worker(0))
	worker.End()
	run.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, SpanBenchWorker, spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, stop())
	assert.False(t, IsProfilingEnabled())
}

func TestParseProfileTypes(t *testing.T) {
	types, err := parseProfileTypes([]string{"cpu", "inuse_space", "goroutines"})
	require.NoError(t, err)
	assert.Len(t, types, 3)

	_, err = parseProfileTypes([]string{"cpu", "gpu"})
	assert.ErrorContains(t, err, "gpu")
}

func TestProfileTags(t *testing.T) {
	assert.Equal(t, map[string]string{"version": "v1"}, profileTags(ProfilingConfig{Version: "v1"}))

	tags := profileTags(ProfilingConfig{Version: "v1", Device: "file0", DeviceKind: "file"})
	assert.Equal(t, "file0", tags["device"])
	assert.Equal(t, "file", tags["device_kind"])
}

func TestWithWorkerLabels(t *testing.T) {
	var ran bool
	WithWorkerLabels(context.Background(), "strided", 3, func(ctx context.Context) {
		ran = true
		pattern, _ := pprof.Label(ctx, "pattern")
		worker, _ := pprof.Label(ctx, "worker")
		assert.Equal(t, "strided", pattern)
		assert.Equal(t, "3", worker)
	})
	assert.True(t, ran)
}
