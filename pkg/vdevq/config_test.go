package vdevq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"ZeroMinPending", func(c *Config) { c.MinPending = 0 }},
		{"MinAboveMax", func(c *Config) { c.MinPending = c.MaxPending + 1 }},
		{"MaxPendingTooSmall", func(c *Config) { c.MaxPending = 1; c.MinPending = 1 }},
		{"FutureNotBelowMax", func(c *Config) { c.FuturePending = c.MaxPending }},
		{"ZeroRampRate", func(c *Config) { c.RampRate = 0 }},
		{"HugeTimeShift", func(c *Config) { c.TimeShift = 40 }},
		{"NegativeAggregationLimit", func(c *Config) { c.AggregationLimit = -1 }},
		{"NegativeGap", func(c *Config) { c.ReadGapLimit = -1 }},
		{"ZeroVectorSegments", func(c *Config) { c.MaxVectorSegments = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
