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

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull attendance from every enabled terminal into the ledger",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		dateFrom, _ := cmd.Flags().GetString("from")
		dateTo, _ := cmd.Flags().GetString("to")
		terminalID, _ := cmd.Flags().GetUint64("terminal")

		var report syncuc.PullReport
		var err error
		if terminalID != 0 {
			report, err = svc.PullOne(ctx, terminalID, dateFrom, dateTo)
		} else {
			report, err = svc.Pull(ctx, dateFrom, dateTo)
		}
		if err != nil {
			return errs.Wrap(err, "pull attendance")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(),
			"pull run %d: %d terminals, %d processed, %d inserted, %d duplicates, %d record errors, %d failed terminals\n",
			report.RunID, len(report.Terminals), report.Processed, report.Inserted, report.Duplicates, report.Errors, report.FailedTerminals,
		); err != nil {
			return errs.Wrap(err, "write pull output")
		}
		if len(report.Terminals) > 0 && report.FailedTerminals == len(report.Terminals) {
			return fmt.Errorf("all %d terminals failed during pull", report.FailedTerminals)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(pullCmd)
	pullCmd.Flags().String("from", "", "Window start date (YYYY-MM-DD, default yesterday)")
	pullCmd.Flags().String("to", "", "Window end date (YYYY-MM-DD, default today)")
	pullCmd.Flags().Uint64("terminal", 0, "Pull only this terminal id (default all enabled)")
}
