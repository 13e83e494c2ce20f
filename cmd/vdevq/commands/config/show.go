package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/vdevq/internal/cli/output"
	"github.com/marmos91/vdevq/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and VDEVQ_* environment
overrides have been applied.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show default config as YAML
  vdevq config show

  # Show as JSON
  vdevq config show --output json

  # See the effect of an override
  VDEVQ_QUEUE_AGGREGATION_LIMIT=1MiB vdevq config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
