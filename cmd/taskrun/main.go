// Command taskrun runs a declaratively-defined task inside ephemeral
// Docker containers: it materializes images, creates a shared network,
// brings up dependencies in health-ordered waves, runs the task container
// attached to the terminal, and tears everything down even on failure,
// cancellation, or partial creation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/christinavaneyssen/taskrun/internal/logging"
)

// Exit codes surfaced by the launcher, per SPEC_FULL.md §6.5: the task
// container's own exit code is used on success, so these sentinels are
// chosen not to collide with any plausible process exit code convention.
const (
	exitEngineFailure     = 125
	exitCleanupSuppressed = 126
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	logLevel  string
	logJSON   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "taskrun",
	Short:   "Run a declaratively-defined task inside ephemeral Docker containers",
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("taskrun version %s\ncommit: %s\nbuilt: %s\n", version, commit, buildTime))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "output logs as JSON")
	cobra.OnInitialize(func() {
		logging.Init(logging.Config{Level: logging.Level(logLevel), JSONOutput: logJSON})
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(graphCmd)
}
