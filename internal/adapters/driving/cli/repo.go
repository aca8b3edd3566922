package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage tracked repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/name>",
	Short: "Track a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoAdd,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepoList,
}

var repoAddID string

func init() {
	repoAddCmd.Flags().StringVar(&repoAddID, "id", "", "repository ID (defaults to owner/name)")
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	if app == nil {
		return errors.New("repository store not configured")
	}

	owner, name, ok := strings.Cut(args[0], "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("expected owner/name, got %q", args[0])
	}

	id := repoAddID
	if id == "" {
		id = owner + "/" + name
	}

	repo := &domain.Repository{ID: id, Owner: owner, Name: name}
	if err := app.Repos.Upsert(context.Background(), repo); err != nil {
		return fmt.Errorf("tracking repository: %w", err)
	}

	cmd.Printf("Tracking %s (id %s)\n", repo.FullName(), repo.ID)
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	if app == nil {
		return errors.New("repository store not configured")
	}

	repos, err := app.Repos.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing repositories: %w", err)
	}
	if len(repos) == 0 {
		cmd.Println("No repositories tracked.")
		return nil
	}

	for _, repo := range repos {
		last := "never"
		if !repo.LastSyncedAt.IsZero() {
			last = repo.LastSyncedAt.Local().Format("2006-01-02 15:04")
		}
		cmd.Printf("%-40s %-30s last synced %s\n", repo.ID, repo.FullName(), last)
	}
	return nil
}
