// Package bootstrap holds the startup sequence shared by the relay binaries:
// environment, config, logger, database and dev migrations.
package bootstrap

import (
	"context"
	"errors"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/db"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/migrate"
)

// Process exit statuses. A configuration problem exits 2 so orchestrators can
// tell a bad deploy from a crash.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// Options selects which steps Open runs for a binary.
type Options struct {
	Service           string
	SkipDatabase      bool
	SkipDevMigrations bool
}

// Runtime is what every binary has once bootstrap succeeds.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
}

// LoadConfig reads .env if present, then the environment, and rebuilds the
// logger at the configured level. The returned logger is usable even when
// err is non-nil.
func LoadConfig(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, err
	}
	cfg.Service.Kind = service

	logg = logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}

// Open runs LoadConfig and then connects the database and applies dev
// migrations unless opts skips them. The returned Runtime always carries a
// logger; on error anything already opened has been closed.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, logg, err := LoadConfig(opts.Service)
	rt := &Runtime{Config: cfg, Logger: logg}
	if err != nil || opts.SkipDatabase {
		return rt, err
	}

	rt.DB, err = db.New(ctx, cfg.DB, logg)
	if err != nil {
		return rt, err
	}
	if !opts.SkipDevMigrations {
		if err := migrate.MaybeRunDev(ctx, cfg, logg, rt.DB); err != nil {
			rt.Close()
			return rt, err
		}
	}
	return rt, nil
}

// Close releases the database, logging rather than returning the error since
// it only runs on the way out.
func (r *Runtime) Close() {
	if r == nil || r.DB == nil {
		return
	}
	if err := r.DB.Close(); err != nil {
		r.Logger.Error(context.Background(), "error closing database", err)
	}
	r.DB = nil
}

// WithFields tags ctx with the fields every startup log line carries.
func (r *Runtime) WithFields(ctx context.Context, extra map[string]any) context.Context {
	fields := map[string]any{
		"env":         r.Config.App.Env,
		"serviceKind": r.Config.Service.Kind,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return r.Logger.WithFields(ctx, fields)
}

// ExitCode maps a startup or run error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case config.IsConfigError(err):
		return ExitConfigError
	default:
		return ExitFailure
	}
}
