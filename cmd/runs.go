package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"biosync/internal/bootstrap"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	syncuc "biosync/internal/usecase/sync"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs from the audit trail",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := svc.Ledger().ListRuns(ctx, kind, limit)
		if err != nil {
			return errs.Wrap(err, "list runs")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tPROCESSED\tSUCCEEDED\tFAILED\tSTARTED\tMESSAGE")
		for _, run := range runs {
			message := ""
			if run.Message != nil {
				message = *run.Message
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				run.RunID, run.Kind, run.Status, run.Processed, run.Succeeded, run.Failed, run.StartedAt, message)
		}
		return errs.Wrap(w.Flush(), "write runs table")
	}),
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().String("kind", "", "Filter by run kind (pull, push, config, other)")
	runsCmd.Flags().Int("limit", 20, "Maximum runs to show")
}
