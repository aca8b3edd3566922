package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync [repository-id]",
	Short: "Synchronise repository data from GitHub",
	Long: `Triggers a pull request sync for a repository. Manual syncs are
never throttled. If no repository ID is given, every tracked
repository is synced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if app == nil {
		return errors.New("sync service not configured")
	}

	ctx := context.Background()

	var ids []string
	if len(args) > 0 {
		ids = args
	} else {
		repos, err := app.Repos.List(ctx)
		if err != nil {
			return fmt.Errorf("listing repositories: %w", err)
		}
		for _, repo := range repos {
			ids = append(ids, repo.ID)
		}
	}
	if len(ids) == 0 {
		cmd.Println("No repositories to sync.")
		return nil
	}

	accepted := 0
	for _, id := range ids {
		job := &domain.CaptureJob{
			Kind:         domain.KindRepoSync,
			RepositoryID: id,
			Priority:     domain.PriorityHigh,
			Reason:       domain.ReasonManual,
		}
		if err := app.Queue.Enqueue(ctx, job); err != nil {
			if len(args) > 0 {
				return fmt.Errorf("sync %s: %w", id, err)
			}
			cmd.Printf("Skipping %s: %v\n", id, err)
			continue
		}
		accepted++
	}

	cmd.Printf("Syncing %d repositor%s...\n", accepted, plural(accepted, "y", "ies"))
	app.Queue.Wait()
	app.Capture.WaitEmbeddings()
	cmd.Println("Sync complete.")
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
