// Package commands implements the swingest CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "swingest",
	Short: "SecureWatch ingestion core",
	Long: `swingest is the SecureWatch SIEM ingestion core: it buffers raw log
records across a memory ring and a disk overflow log, dispatches them
through the parser registry, enriches the normalized events, and hands
them to the downstream sink behind a circuit breaker.

Use "swingest [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./swingest.yaml or /etc/securewatch/swingest.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
