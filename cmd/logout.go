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

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the stored payroll credential",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if err := svc.Logout(ctx); err != nil {
			return errs.Wrap(err, "logout from payroll")
		}

		if _, err := fmt.Fprintln(cmd.OutOrStdout(), "payroll credential cleared"); err != nil {
			return errs.Wrap(err, "write logout output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
