package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/services"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Compute embeddings for captured content",
	Long: `Runs the embedding pipeline over captured pull requests, issues
and discussions. Only items whose content changed since the last run
are embedded unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runEmbed,
}

var (
	embedRepo  string
	embedForce bool
	embedKinds []string
)

func init() {
	embedCmd.Flags().StringVar(&embedRepo, "repo", "", "restrict to one repository ID")
	embedCmd.Flags().BoolVar(&embedForce, "force", false, "re-embed items that already have embeddings")
	embedCmd.Flags().StringSliceVar(&embedKinds, "kinds", nil, "item kinds (pull_request, issue, discussion)")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	if app == nil {
		return errors.New("embedding pipeline not configured")
	}

	kinds := make([]domain.ItemKind, 0, len(embedKinds))
	for _, k := range embedKinds {
		kinds = append(kinds, domain.ItemKind(k))
	}

	job, err := app.Capture.ComputeEmbeddings(context.Background(), services.ComputeRequest{
		RepositoryID:    embedRepo,
		ForceRegenerate: embedForce,
		ItemKinds:       kinds,
	})
	if err != nil {
		return fmt.Errorf("embedding run: %w", err)
	}

	cmd.Printf("Embedding job %s: %s, %d/%d items\n",
		job.ID, job.Status, job.ItemsProcessed, job.ItemsTotal)
	if job.ErrorMessage != "" {
		cmd.Printf("Errors: %s\n", job.ErrorMessage)
	}
	return nil
}
