package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/vdevq/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "debug"
queue:
  max_pending: 16
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Queue.MaxPending != 16 {
		t.Errorf("Expected max_pending 16, got %d", cfg.Queue.MaxPending)
	}
	if cfg.Queue.MinPending != 4 {
		t.Errorf("Expected default min_pending 4, got %d", cfg.Queue.MinPending)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Device.Kind != "mem" || cfg.Device.Name != "mem0" {
		t.Errorf("Expected default mem0 device, got %s/%s", cfg.Device.Kind, cfg.Device.Name)
	}
}

func TestLoad_ByteSizesAndDurations(t *testing.T) {
	path := writeConfig(t, `
queue:
  aggregation_limit: 1MiB
  read_gap_limit: 64 sectors
  write_gap_limit: 8192
  scratch_budget: 16MiB
device:
  size: 64MiB
  latency: 250us
  bandwidth: 200MiB
workload:
  block_size: 8KiB
  read_ratio: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Queue.AggregationLimit != bytesize.MiB {
		t.Errorf("Expected aggregation_limit 1MiB, got %s", cfg.Queue.AggregationLimit)
	}
	if *cfg.Queue.ReadGapLimit != 32*bytesize.KiB {
		t.Errorf("Expected read_gap_limit 32KiB, got %s", *cfg.Queue.ReadGapLimit)
	}
	if *cfg.Queue.WriteGapLimit != 8192 {
		t.Errorf("Expected write_gap_limit 8192, got %d", *cfg.Queue.WriteGapLimit)
	}
	if cfg.Device.Latency != 250*time.Microsecond {
		t.Errorf("Expected latency 250us, got %v", cfg.Device.Latency)
	}
	if cfg.Workload.Region != 64*bytesize.MiB {
		t.Errorf("Expected region to default to device size, got %s", cfg.Workload.Region)
	}
	if cfg.Workload.MinSize != 8*bytesize.KiB {
		t.Errorf("Expected min_size raised to block size, got %s", cfg.Workload.MinSize)
	}
	if cfg.Workload.ReadRatio == nil || *cfg.Workload.ReadRatio != 0 {
		t.Errorf("Expected explicit read_ratio 0 to be kept, got %v", cfg.Workload.ReadRatio)
	}
}

func TestLoad_ExplicitZeroLimits(t *testing.T) {
	path := writeConfig(t, `
queue:
  time_shift: 0
  read_gap_limit: 0
  write_gap_limit: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	qc := cfg.Queue.ToQueueConfig()
	if qc.TimeShift != 0 {
		t.Errorf("Expected explicit time_shift 0 to be kept, got %d", qc.TimeShift)
	}
	if qc.ReadGapLimit != 0 {
		t.Errorf("Expected explicit read_gap_limit 0 to be kept, got %d", qc.ReadGapLimit)
	}
	if qc.WriteGapLimit != 0 {
		t.Errorf("Expected explicit write_gap_limit 0 to be kept, got %d", qc.WriteGapLimit)
	}
	if err := qc.Validate(); err != nil {
		t.Errorf("Expected zero limits to be valid: %v", err)
	}
}

func TestLoad_ExplicitZeroFromEnv(t *testing.T) {
	t.Setenv("VDEVQ_QUEUE_WRITE_GAP_LIMIT", "0")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	qc := cfg.Queue.ToQueueConfig()
	if qc.WriteGapLimit != 0 {
		t.Errorf("Expected env write_gap_limit 0, got %d", qc.WriteGapLimit)
	}
	if qc.ReadGapLimit != 32<<10 || qc.TimeShift != 6 {
		t.Errorf("Expected unset limits to default, got read %d shift %d", qc.ReadGapLimit, qc.TimeShift)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
queue:
  max_pending: 16
`)
	t.Setenv("VDEVQ_QUEUE_MAX_PENDING", "32")
	t.Setenv("VDEVQ_DEVICE_LATENCY", "2ms")
	t.Setenv("VDEVQ_QUEUE_AGGREGATION_LIMIT", "256KiB")
	t.Setenv("VDEVQ_WORKLOAD_READ_RATIO", "0.75")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Queue.MaxPending != 32 {
		t.Errorf("Expected env max_pending 32, got %d", cfg.Queue.MaxPending)
	}
	if cfg.Device.Latency != 2*time.Millisecond {
		t.Errorf("Expected env latency 2ms, got %v", cfg.Device.Latency)
	}
	if cfg.Queue.AggregationLimit != 256*bytesize.KiB {
		t.Errorf("Expected env aggregation_limit 256KiB, got %s", cfg.Queue.AggregationLimit)
	}
	if cfg.Workload.ReadRatio == nil || *cfg.Workload.ReadRatio != 0.75 {
		t.Errorf("Expected env read_ratio 0.75, got %v", cfg.Workload.ReadRatio)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got: %v", err)
	}
	if cfg.Queue.MaxPending != 10 {
		t.Errorf("Expected default max_pending 10, got %d", cfg.Queue.MaxPending)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"bad size":       "queue:\n  aggregation_limit: lots\n",
		"bad duration":   "device:\n  latency: soon\n",
		"bad kind":       "device:\n  kind: tape\n",
		"min over max":   "queue:\n  min_pending: 20\n  max_pending: 10\n",
		"broken yaml":    "queue: [\n",
		"region too big": "device:\n  size: 1MiB\nworkload:\n  region: 2MiB\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Errorf("Expected error for %s", name)
			}
		})
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Queue.AggregationLimit = 256 * bytesize.KiB
	cfg.Device.Latency = 3 * time.Millisecond
	var noGap bytesize.ByteSize
	cfg.Queue.WriteGapLimit = &noGap
	ratio := 0.25
	cfg.Workload.ReadRatio = &ratio

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Queue.AggregationLimit != 256*bytesize.KiB {
		t.Errorf("Expected aggregation_limit 256KiB, got %s", loaded.Queue.AggregationLimit)
	}
	if loaded.Device.Latency != 3*time.Millisecond {
		t.Errorf("Expected latency 3ms, got %v", loaded.Device.Latency)
	}
	if *loaded.Queue.WriteGapLimit != 0 {
		t.Errorf("Expected write_gap_limit 0 to survive a save, got %s", *loaded.Queue.WriteGapLimit)
	}
	if *loaded.Workload.ReadRatio != 0.25 {
		t.Errorf("Expected read_ratio 0.25, got %v", *loaded.Workload.ReadRatio)
	}
}

func TestConversions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Queue.BufferedOnly = true
	cfg.Device.Bandwidth = 100 * bytesize.MiB

	qc := cfg.Queue.ToQueueConfig()
	if err := qc.Validate(); err != nil {
		t.Fatalf("Default queue config invalid: %v", err)
	}
	if qc.VectorEnabled {
		t.Error("Expected buffered_only to disable vectoring")
	}
	if qc.AggregationLimit != 128<<10 {
		t.Errorf("Expected aggregation limit 128KiB, got %d", qc.AggregationLimit)
	}
	if qc.TimeShift != 6 || qc.ReadGapLimit != 32<<10 || qc.WriteGapLimit != 4<<10 {
		t.Errorf("Unexpected default limits: %+v", qc)
	}
	if raw := (QueueConfig{}).ToQueueConfig(); raw.WriteGapLimit != 4<<10 {
		t.Errorf("Expected unset write gap to convert to the default, got %d", raw.WriteGapLimit)
	}

	opts := cfg.Device.ToOptions(nil)
	if opts.Bandwidth != 100<<20 || opts.Workers != 8 {
		t.Errorf("Unexpected device options: %+v", opts)
	}

	spec := cfg.Workload.ToSpec()
	if err := spec.Validate(); err != nil {
		t.Fatalf("Default workload invalid: %v", err)
	}
	if spec.ReadRatio != 0.5 || spec.Region != 256<<20 {
		t.Errorf("Unexpected workload spec: %+v", spec)
	}
}
