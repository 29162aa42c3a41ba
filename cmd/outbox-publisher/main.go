package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/backoffice-relay/pkg/bootstrap"
	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/instance"
	"github.com/angelmondragon/backoffice-relay/pkg/metrics"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox/idempotency"
	"github.com/angelmondragon/backoffice-relay/pkg/tenant"
	"github.com/angelmondragon/backoffice-relay/pkg/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	rt, err := bootstrap.Open(ctx, bootstrap.Options{Service: "outbox-publisher"})
	if err != nil {
		rt.Logger.Error(ctx, "failed to bootstrap outbox publisher", err)
		return bootstrap.ExitCode(err)
	}
	defer rt.Close()

	cfg, logg := rt.Config, rt.Logger
	ctx = rt.WithFields(ctx, map[string]any{
		"run_mode":  cfg.Outbox.RunMode,
		"transport": cfg.Transport.Kind,
	})

	tenants, err := tenant.FromConfig(cfg)
	if err != nil {
		logg.Error(ctx, "failed to load tenant allowlist", err)
		return bootstrap.ExitConfigError
	}

	sink, err := transport.New(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap transport", err)
		return bootstrap.ExitCode(err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logg.Error(context.Background(), "error closing transport", err)
		}
	}()

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	service, err := NewService(ServiceParams{
		Config:     cfg.Outbox,
		Logger:     logg,
		DB:         rt.DB,
		Repository: outbox.NewRepository(rt.DB.DB()),
		Guard:      idempotency.NewGuard(rt.DB.DB(), nil),
		Transport:  sink,
		Tenants:    tenants,
		Metrics:    recorder,
		Owner:      instance.GetID(),
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox publisher", err)
		return bootstrap.ExitFailure
	}

	logg.Info(ctx, "starting outbox publisher")
	defer func() {
		logg.Info(logg.WithField(context.WithoutCancel(ctx), "counters", recorder.Snapshot().Counters), "outbox publisher totals")
	}()

	if cfg.Outbox.RunMode == config.RunModeOnce {
		claimed, err := service.RunOnce(ctx)
		if code := bootstrap.ExitCode(err); code != bootstrap.ExitOK {
			logg.Error(ctx, "outbox publisher drain failed", err)
			return code
		}
		logg.Info(logg.WithField(ctx, "claimed", claimed), "outbox publisher drained")
		return bootstrap.ExitOK
	}

	err = service.Run(ctx)
	if code := bootstrap.ExitCode(err); code != bootstrap.ExitOK {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return code
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return bootstrap.ExitOK
}
