package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/vdevq/internal/logger"
	"github.com/marmos91/vdevq/internal/telemetry"
	"github.com/marmos91/vdevq/pkg/config"
	"github.com/marmos91/vdevq/pkg/simdev"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initObservability starts tracing and profiling when enabled. The returned
// function stops both.
func initObservability(ctx context.Context, cfg *config.Config) (func(context.Context), error) {
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:    cfg.Telemetry.Enabled,
		Version:    Version,
		Endpoint:   cfg.Telemetry.Endpoint,
		Insecure:   cfg.Telemetry.Insecure,
		SampleRate: cfg.Telemetry.SampleRate,
		Device:     cfg.Device.Name,
		DeviceKind: cfg.Device.Kind,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:      cfg.Telemetry.Profiling.Enabled,
		Version:      Version,
		Endpoint:     cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
		Device:       cfg.Device.Name,
		DeviceKind:   cfg.Device.Kind,
	})
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Debug("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	return func(ctx context.Context) {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}, nil
}

// openBackend creates the storage behind the simulated device.
func openBackend(cfg config.DeviceConfig) (simdev.Backend, error) {
	switch cfg.Kind {
	case "mem":
		return simdev.NewMemDevice(cfg.Name, cfg.Size.Int64()), nil
	case "file":
		b, err := simdev.OpenFileDevice(cfg.Name, cfg.Path, cfg.Size.Int64())
		if err != nil {
			return nil, fmt.Errorf("failed to open device %s: %w", cfg.Path, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown device kind %q", cfg.Kind)
	}
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
