package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"biosync/internal/bootstrap/config"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	"biosync/internal/infrastructure/persistence/sqlite/model"
)

// App bundles the loaded config and the open database handle. Construction
// and shutdown are owned by the fx module.
type App struct {
	Config config.Config
	DB     *gorm.DB
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := a.DB.WithContext(ctx).AutoMigrate(
		&model.Employee{},
		&model.AttendanceEvent{},
		&model.Terminal{},
		&model.SyncRun{},
		&model.SettingKV{},
	); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	// Soft-deleted terminals must not block re-adding the same address, so
	// the uniqueness of host:port only covers live rows.
	if err := a.DB.WithContext(ctx).Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_terminals_live_addr ON terminals(host, port) WHERE deleted_at IS NULL",
	).Error; err != nil {
		return errs.Wrap(err, "create terminal address index")
	}

	logging.Info(logCtx, "schema migration completed")
	return nil
}
