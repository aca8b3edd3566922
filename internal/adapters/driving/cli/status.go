package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/rivetlabs/gitpulse/internal/connectors/github"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show API budget and fetch strategy health",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if app == nil || app.Strategy == nil {
		return errors.New("fetch strategy not configured")
	}

	for _, api := range []string{github.APIGraphQL, github.APIREST} {
		state := app.Strategy.RateLimit(api)
		if state.Limit == 0 {
			cmd.Printf("%-8s no calls yet\n", api)
			continue
		}
		cmd.Printf("%-8s %d/%d remaining, last call cost %d, resets %s\n",
			api, state.Remaining, state.Limit, state.CostLastCall,
			state.ResetAt.Local().Format(time.Kitchen))
	}

	m := app.Strategy.Metrics()
	cmd.Printf("queries  %d executed, %d points, %d fallbacks (%.1f%%)\n",
		m.QueriesExecuted, m.PointsConsumed, m.FallbackCount, m.FallbackRate()*100)
	return nil
}
