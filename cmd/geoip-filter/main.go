// Command geoip-filter enriches JSON events from Kafka with GeoIP attributes.
//
// Logging:
//   - The root zap logger is built from the log section of the config
//   - Components receive named child loggers
//   - The log level follows config file changes while running
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// 版本信息
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "geoip-filter",
		Short:        "GeoIP enrichment stage for JSON event streams",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (YAML)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Consume, enrich and forward events",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return run(cmd.Context(), path)
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Print metadata of a GeoIP database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return printConfig(cmd.OutOrStdout(), path)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", Version, GitCommit)
		},
	}

	rootCmd.AddCommand(runCmd, inspectCmd, configCmd, versionCmd)
	return rootCmd
}
