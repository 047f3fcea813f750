package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"biosync/internal/bootstrap"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	"biosync/internal/gateway/httpapi"
	syncuc "biosync/internal/usecase/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine with scheduler and local gateway",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *syncuc.Service, sched *syncuc.Scheduler) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		// The schema is idempotent to apply, so serve always ensures it
		// rather than failing on a fresh data directory.
		if err := app.InitSchema(ctx); err != nil {
			return errs.Wrap(err, "ensure schema")
		}

		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := sched.Start(runCtx); err != nil {
			return errs.Wrap(err, "start scheduler")
		}

		watcher := syncuc.NewConfigWatcher(cfgFile, sched, svc)
		go func() {
			if err := watcher.Run(runCtx); err != nil {
				logging.Warn(runCtx, "config watcher stopped", slog.Any("err", errs.Loggable(err)))
			}
		}()

		var gateway *httpapi.Server
		gatewayDone := make(chan error, 1)
		if app.Config.Gateway.Enabled {
			gateway = httpapi.NewServer(app.Config.Gateway, svc, sched, svc.Ledger())
			go func() {
				gatewayDone <- gateway.Start(runCtx)
			}()
		}

		logging.Info(runCtx, "sync engine running",
			slog.Bool("gateway", app.Config.Gateway.Enabled),
			slog.String("gateway_addr", app.Config.Gateway.Addr),
		)

		select {
		case <-runCtx.Done():
			logging.Info(ctx, "shutdown signal received")
		case err := <-gatewayDone:
			if err != nil {
				logging.Error(ctx, "gateway failed", slog.Any("err", errs.Loggable(err)))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if gateway != nil {
			if err := gateway.Shutdown(shutdownCtx); err != nil {
				logging.Warn(ctx, "gateway shutdown failed", slog.Any("err", errs.Loggable(err)))
			}
		}
		if err := sched.Stop(shutdownCtx); err != nil {
			logging.Warn(ctx, "scheduler shutdown failed", slog.Any("err", errs.Loggable(err)))
		}

		logging.Info(ctx, "sync engine stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
