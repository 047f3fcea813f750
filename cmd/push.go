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

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push pending ledger entries to payroll",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		report, err := svc.Push(ctx)
		if err != nil {
			return errs.Wrap(err, "push ledger entries")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(),
			"push run %d: %d selected, %d succeeded, %d failed, %d skipped\n",
			report.RunID, report.Selected, report.Succeeded, report.Failed, report.Skipped,
		); err != nil {
			return errs.Wrap(err, "write push output")
		}
		if report.Halted {
			return fmt.Errorf("push halted after batch %d: %s (%d entries left pending)", report.Batches, report.HaltReason, report.Remaining)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(pushCmd)
}
