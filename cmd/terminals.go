package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"biosync/internal/bootstrap"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	"biosync/internal/ports"
	syncuc "biosync/internal/usecase/sync"
)

var terminalsCmd = &cobra.Command{
	Use:   "terminals",
	Short: "Manage the biometric terminal fleet",
}

var terminalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered terminals",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		terminals, err := svc.ListTerminals(ctx, false)
		if err != nil {
			return errs.Wrap(err, "list terminals")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tENABLED\tLAST PULL")
		for _, terminal := range terminals {
			lastPull := "-"
			if terminal.LastPullAt != nil {
				lastPull = *terminal.LastPullAt
			}
			fmt.Fprintf(w, "%d\t%s\t%s:%d\t%t\t%s\n",
				terminal.TerminalID, terminal.Name, terminal.Host, terminal.Port, terminal.Enabled, lastPull)
		}
		return errs.Wrap(w.Flush(), "write terminal table")
	}),
}

var terminalsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register one terminal",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		name, _ := cmd.Flags().GetString("name")
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")

		terminal, err := svc.AddTerminal(ctx, ports.TerminalCreate{Name: name, Host: host, Port: port})
		if err != nil {
			return errs.Wrap(err, "add terminal")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "terminal %d registered at %s:%d\n", terminal.TerminalID, terminal.Host, terminal.Port); err != nil {
			return errs.Wrap(err, "write add output")
		}
		return nil
	}),
}

var terminalsRemoveCmd = &cobra.Command{
	Use:   "remove <terminal-id>",
	Short: "Unregister a terminal",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		terminalID, err := strconv.ParseUint(cmd.Flags().Args()[0], 10, 64)
		if err != nil {
			return errs.Wrap(err, "parse terminal id")
		}

		if err := svc.RemoveTerminal(ctx, terminalID); err != nil {
			return errs.Wrap(err, "remove terminal")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "terminal %d removed\n", terminalID); err != nil {
			return errs.Wrap(err, "write remove output")
		}
		return nil
	}),
}

var terminalsImportCmd = &cobra.Command{
	Use:   "import <manifest.toml>",
	Short: "Register terminals from a TOML fleet manifest",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		added, skipped, err := svc.ImportTerminals(ctx, cmd.Flags().Args()[0])
		if err != nil {
			return errs.Wrap(err, "import terminals")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d terminals, %d already registered\n", added, skipped); err != nil {
			return errs.Wrap(err, "write import output")
		}
		return nil
	}),
}

var terminalsTestCmd = &cobra.Command{
	Use:   "test <terminal-id>",
	Short: "Probe a terminal connection",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *syncuc.Service, _ *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		terminalID, err := strconv.ParseUint(cmd.Flags().Args()[0], 10, 64)
		if err != nil {
			return errs.Wrap(err, "parse terminal id")
		}

		rosterSize, err := svc.TestTerminal(ctx, terminalID)
		if err != nil {
			return errs.Wrap(err, "test terminal")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "terminal %d reachable, roster lists %d users\n", terminalID, rosterSize); err != nil {
			return errs.Wrap(err, "write test output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(terminalsCmd)
	terminalsCmd.AddCommand(terminalsListCmd)
	terminalsCmd.AddCommand(terminalsAddCmd)
	terminalsCmd.AddCommand(terminalsRemoveCmd)
	terminalsCmd.AddCommand(terminalsImportCmd)
	terminalsCmd.AddCommand(terminalsTestCmd)

	terminalsAddCmd.Flags().String("name", "", "Display name (defaults to host)")
	terminalsAddCmd.Flags().String("host", "", "Terminal host or IP")
	terminalsAddCmd.Flags().Int("port", 0, "Terminal port (defaults to terminal.default_port)")
	_ = terminalsAddCmd.MarkFlagRequired("host")
}
