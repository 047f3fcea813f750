package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"biosync/internal/bootstrap"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	syncuc "biosync/internal/usecase/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger counters and sync watermarks",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		status, err := svc.Status(ctx)
		if err != nil {
			return errs.Wrap(err, "load status")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "entries:    %d total, %d synced, %d pending, %d errored\n",
			status.Stats.Total, status.Stats.Synced, status.Stats.Pending, status.Stats.Errored)
		fmt.Fprintf(out, "terminals:  %d registered\n", status.Terminals)
		if status.LoggedIn {
			fmt.Fprintf(out, "payroll:    logged in as %s\n", status.Principal)
		} else {
			fmt.Fprintln(out, "payroll:    not logged in")
		}
		fmt.Fprintf(out, "last pull:  %s\n", formatWatermark(status.LastPullAt))
		fmt.Fprintf(out, "last push:  %s\n", formatWatermark(status.LastPushAt))
		return nil
	}),
}

func formatWatermark(at *time.Time) string {
	if at == nil {
		return "never"
	}
	return at.Local().Format(time.RFC3339)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
