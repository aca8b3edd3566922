package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
	"github.com/rivetlabs/gitpulse/internal/core/services"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture specific GitHub data",
}

var capturePRCmd = &cobra.Command{
	Use:   "pr <repository-id> <number>",
	Short: "Capture one pull request with reviews and comments",
	Args:  cobra.ExactArgs(2),
	RunE:  runCapturePR,
}

var captureCommitsCmd = &cobra.Command{
	Use:   "commits <repository-id>",
	Short: "Capture repository commits",
	Args:  cobra.ExactArgs(1),
	RunE:  runCaptureCommits,
}

var captureDiscussionsCmd = &cobra.Command{
	Use:   "discussions <repository-id>",
	Short: "Capture repository discussions",
	Args:  cobra.ExactArgs(1),
	RunE:  runCaptureDiscussions,
}

var captureInitial bool

func init() {
	captureCommitsCmd.Flags().BoolVar(&captureInitial, "initial", false, "force an initial backfill window")
	captureCmd.AddCommand(capturePRCmd)
	captureCmd.AddCommand(captureCommitsCmd)
	captureCmd.AddCommand(captureDiscussionsCmd)
	rootCmd.AddCommand(captureCmd)
}

func runCapturePR(cmd *cobra.Command, args []string) error {
	if app == nil {
		return errors.New("capture service not configured")
	}

	if _, err := strconv.Atoi(args[1]); err != nil {
		return fmt.Errorf("pull request number %q: %w", args[1], err)
	}

	job := &domain.CaptureJob{
		Kind:         domain.KindPRDetails,
		RepositoryID: args[0],
		TargetID:     args[1],
		Priority:     domain.PriorityHigh,
		Reason:       domain.ReasonManual,
	}
	if err := app.Queue.Enqueue(context.Background(), job); err != nil {
		return fmt.Errorf("capture pr: %w", err)
	}

	app.Queue.Wait()
	app.Capture.WaitEmbeddings()

	status, _ := app.Queue.JobStatus(job.ID)
	cmd.Printf("PR #%s capture %s\n", args[1], status)
	return nil
}

func runCaptureCommits(cmd *cobra.Command, args []string) error {
	if app == nil {
		return errors.New("capture service not configured")
	}

	err := app.Capture.Commits(context.Background(), services.CommitsRequest{
		RepositoryID: args[0],
		ForceInitial: captureInitial,
		Reason:       domain.ReasonManual,
	})
	if err != nil {
		return fmt.Errorf("capture commits: %w", err)
	}
	cmd.Println("Commit capture complete.")
	return nil
}

func runCaptureDiscussions(cmd *cobra.Command, args []string) error {
	if app == nil {
		return errors.New("capture service not configured")
	}

	job := &domain.CaptureJob{
		Kind:         domain.KindDiscussions,
		RepositoryID: args[0],
		Priority:     domain.PriorityMedium,
		Reason:       domain.ReasonManual,
	}
	if err := app.Queue.Enqueue(context.Background(), job); err != nil {
		return fmt.Errorf("capture discussions: %w", err)
	}

	app.Queue.Wait()
	app.Capture.WaitEmbeddings()

	status, _ := app.Queue.JobStatus(job.ID)
	cmd.Printf("Discussion capture %s\n", status)
	return nil
}
