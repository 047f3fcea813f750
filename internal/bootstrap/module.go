package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"biosync/internal/bootstrap/config"
	"biosync/internal/bootstrap/database"
	"biosync/internal/bootstrap/logging"
	payrollinfra "biosync/internal/infrastructure/payroll"
	sqliterepo "biosync/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "biosync/internal/infrastructure/persistence/sqlite/uow"
	settingsinfra "biosync/internal/infrastructure/settings"
	terminalinfra "biosync/internal/infrastructure/terminal"
	"biosync/internal/ports"
	syncuc "biosync/internal/usecase/sync"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewLedgerRepository,
			fx.As(new(ports.LedgerRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			settingsinfra.NewStore,
			fx.As(new(ports.Settings)),
		),
	),
	fx.Provide(provideTerminalDialer),
	fx.Provide(providePayrollGateway),
	fx.Provide(syncuc.NewService),
	fx.Provide(syncuc.NewScheduler),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideTerminalDialer() ports.TerminalDialer {
	return terminalinfra.Dialer{}
}

func providePayrollGateway(cfg config.Config) ports.PayrollGateway {
	return payrollinfra.NewClient(cfg.Payroll)
}
