package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/vdevq/internal/cli/output"
	"github.com/marmos91/vdevq/internal/logger"
	"github.com/marmos91/vdevq/pkg/bufpool"
	"github.com/marmos91/vdevq/pkg/config"
	"github.com/marmos91/vdevq/pkg/metrics"
	"github.com/marmos91/vdevq/pkg/metrics/prometheus"
	"github.com/marmos91/vdevq/pkg/simdev"
	"github.com/marmos91/vdevq/pkg/vdevq"
	"github.com/marmos91/vdevq/pkg/workload"
)

var (
	benchDevice      string
	benchPath        string
	benchRequests    int
	benchOutput      string
	benchMetricsAddr string
	benchWatch       bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive a synthetic workload through the queue",
	Long: `Run the configured workload against a simulated device and report
throughput, latency and how the scheduler aggregated the requests.

Every request is checked to complete exactly once; the command fails if any
request is lost or completed twice.

Examples:
  # Run with defaults (in-memory device)
  vdevq bench

  # Use a file-backed device and print JSON
  vdevq bench --device file --path /tmp/vdevq.img --output json

  # Expose Prometheus metrics while the run is in progress
  vdevq bench --metrics-addr :9090

  # Apply queue tunables from the config file as it is edited
  vdevq bench --config ./vdevq.yaml --watch

  # Override settings from the environment
  VDEVQ_QUEUE_MAX_PENDING=32 VDEVQ_WORKLOAD_PATTERN=random vdevq bench`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchDevice, "device", "", "Device kind (mem|file), overrides device.kind")
	benchCmd.Flags().StringVar(&benchPath, "path", "", "Backing file for --device file, overrides device.path")
	benchCmd.Flags().IntVar(&benchRequests, "requests", 0, "Number of requests, overrides workload.requests")
	benchCmd.Flags().StringVarP(&benchOutput, "output", "o", "table", "Output format (table|json|yaml)")
	benchCmd.Flags().StringVar(&benchMetricsAddr, "metrics-addr", "", "Serve /metrics, /health and /stats on this address")
	benchCmd.Flags().BoolVar(&benchWatch, "watch", false, "Reload queue tunables when the config file changes")
}

func runBench(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(benchOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := applyBenchFlags(cmd, cfg); err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownObservability(context.Background())

	metricsAddr := benchMetricsAddr
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = fmt.Sprintf(":%d", cfg.Metrics.Port)
	}
	if metricsAddr != "" {
		metrics.InitRegistry()
	}

	b, err := newBench(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if metricsAddr != "" {
		srv := metrics.NewServer(metricsAddr, func() any { return b.queue.Stats() })
		if err := srv.Listen(); err != nil {
			return err
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Stop(stopCtx)
		}()
		logger.Info("Metrics enabled", "addr", srv.Addr())
	}

	if benchWatch {
		path := GetConfigFile()
		if path == "" {
			path = config.GetDefaultConfigPath()
		}
		go func() {
			if err := config.Watch(ctx, path, b.reload); err != nil {
				logger.Warn("Config watch stopped", "path", path, "error", err)
			}
		}()
		logger.Info("Watching configuration", "path", path)
	}

	rep, runErr := b.run(ctx)
	if rep != nil {
		if err := output.ForWriter(cmd.OutOrStdout(), format).Print(rep); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

// applyBenchFlags overlays explicitly set flags on cfg and revalidates.
func applyBenchFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("device") {
		if cfg.Device.Name == cfg.Device.Kind+"0" {
			cfg.Device.Name = benchDevice + "0"
		}
		cfg.Device.Kind = benchDevice
	}
	if flags.Changed("path") {
		cfg.Device.Path = benchPath
	}
	if flags.Changed("requests") {
		cfg.Workload.Requests = benchRequests
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// bench is one wired queue, device and workload.
type bench struct {
	cfg    *config.Config
	device *simdev.Device
	alloc  *bufpool.Allocator
	queue  *vdevq.Queue
}

func newBench(cfg *config.Config) (*bench, error) {
	backend, err := openBackend(cfg.Device)
	if err != nil {
		return nil, err
	}

	name := cfg.Device.Name
	dev := simdev.NewDevice(backend, cfg.Device.ToOptions(prometheus.NewDeviceMetrics()))

	alloc := bufpool.NewAllocator(nil, cfg.Queue.ScratchBudget.Int64(), int64(cfg.Queue.VectorBudget))
	prometheus.RegisterAllocator(name, alloc)

	q, err := vdevq.New(cfg.Queue.ToQueueConfig(), dev,
		vdevq.WithName(name),
		vdevq.WithAllocator(alloc),
		vdevq.WithMetrics(prometheus.NewQueueMetrics(name)),
	)
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	dev.Attach(q)

	logger.Info("Device ready",
		logger.Device(name),
		"kind", backend.Kind(),
		"size", cfg.Device.Size.String(),
		"workers", cfg.Device.Workers,
		"queue_id", q.ID())

	return &bench{cfg: cfg, device: dev, alloc: alloc, queue: q}, nil
}

func (b *bench) run(ctx context.Context) (*workload.Report, error) {
	runner, err := workload.NewRunner(b.queue, b.cfg.Workload.ToSpec(),
		workload.WithDevice(b.cfg.Device.Name),
		workload.WithUsage(b.alloc.Usage),
	)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}

// reload applies the queue section of a changed configuration. Device and
// workload changes need a new run.
func (b *bench) reload(cfg *config.Config) {
	if err := b.queue.SetConfig(cfg.Queue.ToQueueConfig()); err != nil {
		logger.Warn("Rejected queue reload", logger.Device(b.queue.Name()), "error", err)
		return
	}
	logger.Info("Queue tunables reloaded",
		logger.Device(b.queue.Name()),
		"min_pending", cfg.Queue.MinPending,
		"max_pending", cfg.Queue.MaxPending,
		"aggregation_limit", cfg.Queue.AggregationLimit.String())
}

func (b *bench) close() {
	start := time.Now()
	if err := b.device.Close(); err != nil {
		logger.Warn("Device close error", logger.Device(b.cfg.Device.Name), "error", err)
	}
	logger.Debug("Device closed", logger.Device(b.cfg.Device.Name), logger.DurationMs(start))
}
