package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background capture worker",
	Long: `Runs the scheduler loop: periodic repository syncs and embedding
computation. Blocks until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if app == nil || app.Scheduler == nil {
		return errors.New("scheduler not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Println("Worker running. Press Ctrl+C to stop.")
	err := app.Scheduler.Start(ctx)

	cmd.Println("Shutting down...")
	app.Scheduler.Stop()
	app.Queue.Shutdown()
	app.Capture.WaitEmbeddings()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
