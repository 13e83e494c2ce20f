package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/vdevq/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	Long: `Write a vdevq configuration file populated with the default settings.

By default, the configuration file is created at $XDG_CONFIG_HOME/vdevq/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  vdevq config init

  # Initialize with custom path
  vdevq config init --config ./vdevq.yaml

  # Force overwrite existing config
  vdevq config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the queue, device and workload sections")
	_, _ = fmt.Fprintf(out, "  2. Run a workload with: vdevq bench --config %s\n", path)
	return nil
}
