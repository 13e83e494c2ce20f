// Package workload generates synthetic request streams against a vdevq
// queue and measures how the queue schedules and aggregates them.
package workload

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Pattern selects how a worker walks the device.
type Pattern string

const (
	// Sequential walks each worker's region in block order.
	Sequential Pattern = "sequential"
	// Random picks block-aligned offsets uniformly in the worker's region.
	Random Pattern = "random"
	// Strided advances by Stride after each request, wrapping at the end
	// of the region.
	Strided Pattern = "strided"
)

// Spec describes a workload. Sizes are in bytes.
type Spec struct {
	Pattern Pattern `validate:"oneof=sequential random strided"`

	// Requests is the total across all workers.
	Requests int `validate:"gte=1"`
	Workers  int `validate:"gte=1"`

	// MinSize and MaxSize bound request sizes. Sizes are multiples of
	// BlockSize.
	BlockSize int64 `validate:"gte=1"`
	MinSize   int64 `validate:"gtefield=BlockSize"`
	MaxSize   int64 `validate:"gtefield=MinSize"`

	// Stride is the distance between strided requests.
	Stride int64 `validate:"gte=0"`

	// Region is the device range the workload touches, starting at 0.
	Region int64 `validate:"gtefield=MaxSize"`

	// ReadRatio is the fraction of requests that are reads.
	ReadRatio float64 `validate:"gte=0,lte=1"`

	// PlaceholderRatio is the fraction of writes issued as placeholders.
	PlaceholderRatio float64 `validate:"gte=0,lte=1"`

	// Priorities draws request priorities uniformly from [0, Priorities).
	Priorities int `validate:"gte=1"`

	// Rate caps submissions per second across all workers. Zero is
	// unlimited.
	Rate float64 `validate:"gte=0"`

	// Seed makes the stream reproducible. Zero picks a random seed.
	Seed uint64
}

// DefaultSpec returns a small mixed sequential workload.
func DefaultSpec() Spec {
	return Spec{
		Pattern:          Sequential,
		Requests:         10000,
		Workers:          4,
		BlockSize:        4096,
		MinSize:          4096,
		MaxSize:          16384,
		Stride:           65536,
		Region:           64 << 20,
		ReadRatio:        0.5,
		PlaceholderRatio: 0,
		Priorities:       4,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the spec for consistency.
func (s Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid workload: %w", err)
	}
	if s.Pattern == Strided && s.Stride < s.BlockSize {
		return fmt.Errorf("invalid workload: stride %d below block size %d", s.Stride, s.BlockSize)
	}
	if s.Region/int64(s.Workers) < s.MaxSize {
		return fmt.Errorf("invalid workload: region %d too small for %d workers of %d byte requests", s.Region, s.Workers, s.MaxSize)
	}
	return nil
}
