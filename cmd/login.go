package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"biosync/internal/bootstrap"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	syncuc "biosync/internal/usecase/sync"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against payroll and store the credential",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			// Read from stdin so the password stays out of shell history.
			if _, err := fmt.Fprint(cmd.OutOrStdout(), "password: "); err != nil {
				return errs.Wrap(err, "prompt for password")
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return errs.Wrap(err, "read password")
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return errors.New("password is required")
		}

		session, err := svc.Login(ctx, username, password)
		if err != nil {
			return errs.Wrap(err, "login to payroll")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", session.Principal, session.Org); err != nil {
			return errs.Wrap(err, "write login output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().String("username", "", "Payroll username")
	loginCmd.Flags().String("password", "", "Payroll password (prompted when omitted)")
	_ = loginCmd.MarkFlagRequired("username")
}
