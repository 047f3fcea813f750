package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Payroll   PayrollConfig   `mapstructure:"payroll"`
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type PayrollConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	AuthTimeoutSeconds int    `mapstructure:"auth_timeout_seconds"`
	SyncTimeoutSeconds int    `mapstructure:"sync_timeout_seconds"`
}

type TerminalConfig struct {
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	DefaultPort           int `mapstructure:"default_port"`
}

type SchedulerConfig struct {
	PullIntervalMinutes int    `mapstructure:"pull_interval_minutes"`
	PushIntervalMinutes int    `mapstructure:"push_interval_minutes"`
	CleanupAt           string `mapstructure:"cleanup_at"`
	RetentionDays       int    `mapstructure:"retention_days"`
}

type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(logCtx, v)

	v.SetEnvPrefix("BIOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}
	if cfg.Scheduler.PullIntervalMinutes < 0 || cfg.Scheduler.PushIntervalMinutes < 0 {
		return Config{}, errors.New("scheduler intervals must not be negative")
	}
	if cfg.Scheduler.RetentionDays <= 0 {
		return Config{}, errors.New("scheduler.retention_days must be positive")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Int("pull_interval_minutes", cfg.Scheduler.PullIntervalMinutes),
		slog.Int("push_interval_minutes", cfg.Scheduler.PushIntervalMinutes),
	)

	return cfg, nil
}

func setDefaults(ctx context.Context, v *viper.Viper) {
	if ctx == nil {
		return
	}

	v.SetDefault("app.name", "biosync")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".biosync/state/ledger.sqlite")
	v.SetDefault("payroll.base_url", "")
	v.SetDefault("payroll.auth_timeout_seconds", 30)
	v.SetDefault("payroll.sync_timeout_seconds", 60)
	v.SetDefault("terminal.connect_timeout_seconds", 10)
	v.SetDefault("terminal.default_port", 4370)
	v.SetDefault("scheduler.pull_interval_minutes", 30)
	v.SetDefault("scheduler.push_interval_minutes", 15)
	v.SetDefault("scheduler.cleanup_at", "02:00")
	v.SetDefault("scheduler.retention_days", 60)
	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.addr", "127.0.0.1:8745")
}
