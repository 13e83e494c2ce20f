package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use them consistently so logs
// from the queue, the simulated devices and the bench runner can be joined.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Device and queue identity
	KeyDevice  = "device"   // Device name
	KeyQueueID = "queue_id" // Queue instance UUID
	KeyRunID   = "run_id"   // Bench run UUID
	KeyPath    = "path"     // Backing file path for file devices

	// Units of work
	KeyRequestID = "request_id" // Request identity
	KeyUnitID    = "unit_id"    // Dispatched unit identity (request or aggregate)
	KeyIOType    = "io_type"    // read, write
	KeyOffset    = "offset"     // Device byte offset
	KeySize      = "size"       // Transfer size in bytes
	KeySpan      = "span"       // Aggregate span in bytes
	KeyChildren  = "children"   // Requests absorbed into an aggregate
	KeyBacking   = "backing"    // single, vectored, buffered
	KeySegments  = "segments"   // Scatter/gather segment count
	KeyPriority  = "priority"   // Request priority
	KeyDeadline  = "deadline"   // Scheduler tick deadline
	KeyFlags     = "flags"      // Request flags

	// Admission
	KeyPending = "pending" // Dispatched, incomplete units
	KeyQueued  = "queued"  // Requests waiting for selection
	KeyReason  = "reason"  // Throttle or bypass reason
	KeyStage   = "stage"   // Allocation stage: vector, scratch

	// Outcome
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyOperation  = "operation"
	KeyCount      = "count"
)

// Device returns a slog.Attr for the device name.
func Device(name string) slog.Attr {
	return slog.String(KeyDevice, name)
}

// Offset returns a slog.Attr for a device offset.
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// Size returns a slog.Attr for a transfer size.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// IOType returns a slog.Attr for the transfer direction.
func IOType(t string) slog.Attr {
	return slog.String(KeyIOType, t)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr with the time elapsed since start.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
