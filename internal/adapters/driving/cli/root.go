// Package cli implements the gitpulse command-line interface
// (primary/driving adapter).
package cli

import (
	"github.com/spf13/cobra"

	"github.com/rivetlabs/gitpulse/internal/connectors/github"
	"github.com/rivetlabs/gitpulse/internal/core/ports/driven"
	"github.com/rivetlabs/gitpulse/internal/core/services"
	"github.com/rivetlabs/gitpulse/internal/logger"
)

// App bundles the wired services the CLI drives. main constructs one
// and hands it to Execute.
type App struct {
	Repos     driven.RepositoryStore
	Queue     *services.QueueManager
	Capture   *services.CaptureService
	Scheduler *services.Scheduler
	Strategy  *github.FetchStrategy
}

var (
	app     *App
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gitpulse",
	Short: "Progressive GitHub data capture",
	Long: `gitpulse captures pull requests, reviews, comments, commits and
discussions from GitHub repositories, throttling repeat syncs and
computing embeddings for captured content.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the CLI with the given application wiring.
func Execute(a *App) error {
	app = a
	return rootCmd.Execute()
}
