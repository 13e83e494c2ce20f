package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for device and queue operations.
const (
	// ========================================================================
	// Device attributes
	// ========================================================================
	AttrDevice     = "vdev.device"      // Device name
	AttrDeviceKind = "vdev.device_kind" // mem, file

	// ========================================================================
	// Transfer attributes
	// ========================================================================
	AttrIOType   = "vdev.io_type"  // read, write
	AttrOffset   = "vdev.offset"   // Device byte offset
	AttrSize     = "vdev.size"     // Transfer size in bytes
	AttrSegments = "vdev.segments" // Scatter/gather segment count
	AttrBacking  = "vdev.backing"  // single, vectored, buffered
	AttrChildren = "vdev.children" // Requests served by the transfer
	AttrUnitID   = "vdev.unit_id"

	// ========================================================================
	// Bench attributes
	// ========================================================================
	AttrRunID    = "bench.run_id"
	AttrPattern  = "bench.pattern" // sequential, random, strided
	AttrWorker   = "bench.worker"
	AttrRequests = "bench.requests"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanDeviceRead  = "device.read"
	SpanDeviceWrite = "device.write"
	SpanBenchRun    = "bench.run"
	SpanBenchWorker = "bench.worker"
)

// Device returns an attribute for the device name
func Device(name string) attribute.KeyValue {
	return attribute.String(AttrDevice, name)
}

// DeviceKind returns an attribute for the device implementation
func DeviceKind(kind string) attribute.KeyValue {
	return attribute.String(AttrDeviceKind, kind)
}

// IOType returns an attribute for the transfer direction
func IOType(t string) attribute.KeyValue {
	return attribute.String(AttrIOType, t)
}

// Offset returns an attribute for a device offset
func Offset(off int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, off)
}

// Size returns an attribute for a transfer size
func Size(n int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, n)
}

// Segments returns an attribute for a segment count
func Segments(n int) attribute.KeyValue {
	return attribute.Int(AttrSegments, n)
}

// Backing returns an attribute for the aggregate backing kind
func Backing(kind string) attribute.KeyValue {
	return attribute.String(AttrBacking, kind)
}

// Children returns an attribute for the number of requests in a transfer
func Children(n int) attribute.KeyValue {
	return attribute.Int(AttrChildren, n)
}

// UnitID returns an attribute for a dispatched unit identity
func UnitID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrUnitID, int64(id))
}

// RunID returns an attribute for a bench run
func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

// Pattern returns an attribute for a workload access pattern
func Pattern(p string) attribute.KeyValue {
	return attribute.String(AttrPattern, p)
}

// Worker returns an attribute for a bench worker index
func Worker(n int) attribute.KeyValue {
	return attribute.Int(AttrWorker, n)
}

// Requests returns an attribute for a request count
func Requests(n int) attribute.KeyValue {
	return attribute.Int(AttrRequests, n)
}

// StartTransferSpan starts a span for one physical device transfer.
func StartTransferSpan(ctx context.Context, device, ioType string, offset, size int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Device(device),
		IOType(ioType),
		Offset(offset),
		Size(size),
	}
	allAttrs = append(allAttrs, attrs...)

	name := SpanDeviceRead
	if ioType == "write" {
		name = SpanDeviceWrite
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartBenchSpan starts a span for a bench run or one of its workers.
func StartBenchSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
