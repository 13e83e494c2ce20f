package vdevq

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Default tunables.
const (
	DefaultMinPending        = 4
	DefaultMaxPending        = 10
	DefaultFuturePending     = 8
	DefaultRampRate          = 2
	DefaultTimeShift         = 6
	DefaultAggregationLimit  = 128 << 10
	DefaultReadGapLimit      = 32 << 10
	DefaultWriteGapLimit     = 4 << 10
	DefaultMaxVectorSegments = 16
	DefaultMaxVectorBytes    = 128 << 10
)

// Config holds the tunables of one queue.
type Config struct {
	// MinPending is the admission limit used on Submit.
	MinPending int `validate:"gte=1,ltefield=MaxPending"`

	// MaxPending is the admission limit used when ramping after a
	// completion. Pending never exceeds it.
	MaxPending int `validate:"gte=2"`

	// FuturePending caps pending transfers while the earliest queued
	// deadline is still in the future.
	FuturePending int `validate:"gte=1,ltfield=MaxPending"`

	// RampRate is the number of extra selections attempted per completion.
	RampRate int `validate:"gte=1"`

	// TimeShift converts milliseconds to scheduler ticks (ms >> TimeShift).
	TimeShift uint `validate:"lte=32"`

	// AggregationLimit is the largest span an aggregate may cover.
	AggregationLimit int64 `validate:"gte=0"`

	// ReadGapLimit is the largest hole a read aggregate may bridge with
	// filler.
	ReadGapLimit int64 `validate:"gte=0"`

	// WriteGapLimit is how far placeholder writes may bridge between real
	// writes.
	WriteGapLimit int64 `validate:"gte=0"`

	// VectorEnabled allows zero-copy aggregates.
	VectorEnabled bool

	// MaxVectorSegments and MaxVectorBytes bound a vectored aggregate.
	MaxVectorSegments int   `validate:"gte=1"`
	MaxVectorBytes    int64 `validate:"gte=0"`
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		MinPending:        DefaultMinPending,
		MaxPending:        DefaultMaxPending,
		FuturePending:     DefaultFuturePending,
		RampRate:          DefaultRampRate,
		TimeShift:         DefaultTimeShift,
		AggregationLimit:  DefaultAggregationLimit,
		ReadGapLimit:      DefaultReadGapLimit,
		WriteGapLimit:     DefaultWriteGapLimit,
		VectorEnabled:     true,
		MaxVectorSegments: DefaultMaxVectorSegments,
		MaxVectorBytes:    DefaultMaxVectorBytes,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the tunables for consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
