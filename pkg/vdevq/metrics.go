package vdevq

import "time"

// Metrics receives queue events. A nil Metrics disables collection.
type Metrics interface {
	// ObserveDispatch is called for every unit handed to the driver.
	// backing is "single", "vectored" or "buffered".
	ObserveDispatch(typ IOType, backing string, bytes int64, children int)

	// ObserveCompletion is called when the driver completes a unit.
	ObserveCompletion(typ IOType, latency time.Duration, failed bool)

	// ObserveBypass is called for every request completed without its own
	// transfer. reason is "absorbed" or "nodata".
	ObserveBypass(typ IOType, reason string)

	// ObserveThrottle is called when selection is refused. reason is
	// "limit" or "future".
	ObserveThrottle(reason string)

	// ObserveAllocFallback is called when backing allocation fails.
	// stage is "vector" or "scratch".
	ObserveAllocFallback(stage string)

	// SetDepth reports the queued and pending counts.
	SetDepth(queued, pending int)
}
