package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"biosync/internal/bootstrap"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	syncuc "biosync/internal/usecase/sync"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete ledger entries older than the retention horizon",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		report, err := svc.Cleanup(ctx)
		if err != nil {
			return errs.Wrap(err, "run retention cleanup")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(),
			"cleanup run %d: deleted %d entries dated before %s\n",
			report.RunID, report.Deleted, report.Cutoff,
		); err != nil {
			return errs.Wrap(err, "write cleanup output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
