package vdevq

import "strings"

// IOType is the direction of a transfer.
type IOType uint8

const (
	Read IOType = iota
	Write
)

func (t IOType) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Flag is a request flag bitset.
type Flag uint32

const (
	// FlagCanFail marks I/O whose failure the caller tolerates.
	FlagCanFail Flag = 1 << iota
	// FlagSpeculative marks prefetch I/O.
	FlagSpeculative
	// FlagSelfHeal marks repair writes.
	FlagSelfHeal
	// FlagConfigWriter marks label/config writes.
	FlagConfigWriter

	// FlagDontAggregate forbids merging the request with its neighbours.
	FlagDontAggregate
	// FlagOptional marks a placeholder write that may be dropped when it
	// would start or end an aggregate. A stretch clears it.
	FlagOptional
	// FlagNoData marks a request that carries no payload. Placeholders
	// carry it for their whole life.
	FlagNoData
	// FlagDontQueue makes Submit hand the request straight to the driver.
	// The queue sets it on aggregates and on absorbed children.
	FlagDontQueue
	// FlagDontCache marks transfers whose buffer contents are not
	// meaningful in full, such as aggregates with read filler.
	FlagDontCache
)

// FlagAggInherit is the subset of flags that must match exactly for two
// requests to share an aggregate. Aggregates inherit it.
const FlagAggInherit = FlagCanFail | FlagSpeculative | FlagSelfHeal | FlagConfigWriter

var flagNames = []struct {
	f    Flag
	name string
}{
	{FlagCanFail, "canfail"},
	{FlagSpeculative, "speculative"},
	{FlagSelfHeal, "selfheal"},
	{FlagConfigWriter, "configwriter"},
	{FlagDontAggregate, "dontaggregate"},
	{FlagOptional, "optional"},
	{FlagNoData, "nodata"},
	{FlagDontQueue, "dontqueue"},
	{FlagDontCache, "dontcache"},
}

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
