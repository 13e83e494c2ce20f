package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/vdevq/internal/cli/output"
	"github.com/marmos91/vdevq/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the vdevq configuration file.

Checks for syntax errors, out of range values, and queue or workload settings
that cannot work together.

Examples:
  # Validate default config
  vdevq config validate

  # Validate specific config file
  vdevq config validate --config ./vdevq.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}

	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	p := output.ForWriter(cmd.OutOrStdout(), output.FormatTable)
	p.Printf("Configuration file: %s\n", path)
	p.Success("Validation: OK")

	var warnings []string
	if cfg.Device.ErrorRate > 0 {
		warnings = append(warnings, fmt.Sprintf("device.error_rate is %g, bench runs will report failed requests", cfg.Device.ErrorRate))
	}
	if cfg.Queue.ScratchBudget > 0 && cfg.Queue.ScratchBudget < cfg.Queue.AggregationLimit {
		warnings = append(warnings, "queue.scratch_budget is below aggregation_limit, large buffered aggregates will fall back")
	}
	if cfg.Queue.BufferedOnly && cfg.Queue.ScratchBudget == 0 {
		warnings = append(warnings, "queue.buffered_only with no scratch_budget copies every aggregate through unbounded scratch")
	}
	if len(warnings) > 0 {
		p.Println()
		p.Warning("Warnings:")
		for _, w := range warnings {
			p.Printf("  - %s\n", w)
		}
	}

	p.Println("\nConfiguration summary:")
	return output.SimpleTable(cmd.OutOrStdout(), [][2]string{
		{"Device", fmt.Sprintf("%s (%s, %s)", cfg.Device.Name, cfg.Device.Kind, cfg.Device.Size)},
		{"Pending", fmt.Sprintf("min %d, max %d, future %d", cfg.Queue.MinPending, cfg.Queue.MaxPending, cfg.Queue.FuturePending)},
		{"Aggregation limit", cfg.Queue.AggregationLimit.String()},
		{"Workload", fmt.Sprintf("%s, %d requests", cfg.Workload.Pattern, cfg.Workload.Requests)},
		{"Log level", cfg.Logging.Level},
	})
}
