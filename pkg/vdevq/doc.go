// Package vdevq implements the per-device I/O queue that sits between a
// storage pool's logical I/O pipeline and a single block device.
//
// A Queue accepts read and write requests for one device, orders them by
// deadline and by offset, and merges spatially adjacent requests into larger
// physical transfers (aggregates). It bounds the number of transfers that are
// outstanding at the device and guarantees that every request's completion
// callback fires exactly once.
//
// # Lifecycle
//
//	caller --Submit--> queued indices --select--> Driver.Dispatch
//	                                                    |
//	Driver --OnComplete--> pending index removed <------+
//	                       ramp: select up to RampRate more units
//
// A request selected on its own moves to the pending index and is handed to
// the Driver unchanged. A request absorbed into an Aggregate is removed from
// the queued indices and completed immediately ("bypassed"); only the
// Aggregate is tracked as pending. The buffer of an absorbed request stays
// referenced by the Aggregate until the physical transfer completes, which
// the queue signals through the request's release callback.
//
// # Concurrency
//
// The queue owns no goroutines. Submit runs on the producer's goroutine and
// OnComplete on whatever goroutine the driver completes on. One mutex guards
// index membership; data copies, completion callbacks and driver dispatch all
// run with the mutex released, so a callback may call Submit on the same
// queue.
package vdevq
