// Package commands implements the vdevq command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/vdevq/cmd/vdevq/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vdevq",
	Short: "vdevq - per-device I/O scheduler and aggregation queue",
	Long: `vdevq schedules block I/O for a single device. It orders requests by
deadline, merges adjacent requests into larger transfers and limits how many
transfers are in flight at once.

The bench command drives a synthetic workload through the queue against a
simulated device and reports what the scheduler did.

Use "vdevq [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/vdevq/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
