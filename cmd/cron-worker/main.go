package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/backoffice-relay/internal/cron"
	"github.com/angelmondragon/backoffice-relay/pkg/bootstrap"
	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/db"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/metrics"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox/idempotency"
	"github.com/angelmondragon/backoffice-relay/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	rt, err := bootstrap.Open(ctx, bootstrap.Options{Service: "cron-worker"})
	if err != nil {
		rt.Logger.Error(ctx, "failed to bootstrap cron worker", err)
		return bootstrap.ExitCode(err)
	}
	defer rt.Close()

	cfg, logg := rt.Config, rt.Logger

	lock, closeLock, err := buildLock(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		return bootstrap.ExitFailure
	}
	defer closeLock()

	registry, err := buildRegistry(cfg, logg, rt.DB, outbox.NewRepository(rt.DB.DB()))
	if err != nil {
		logg.Error(ctx, "failed to build cron jobs", err)
		return bootstrap.ExitFailure
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Retention.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		return bootstrap.ExitFailure
	}

	ctx = rt.WithFields(ctx, map[string]any{"jobs": registry.Names()})
	logg.Info(ctx, "starting cron worker")

	err = service.Run(ctx)
	if code := bootstrap.ExitCode(err); code != bootstrap.ExitOK {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return code
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return bootstrap.ExitOK
}

// buildLock prefers the shared redis lock so replicas never overlap. A single
// replica without redis falls back to an in-process lock.
func buildLock(ctx context.Context, cfg *config.Config, logg *logger.Logger) (cron.Lock, func(), error) {
	if !cfg.Redis.Configured() {
		logg.Warn(ctx, "redis not configured, cron lock is local to this process")
		return cron.NewLocalLock(), func() {}, nil
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}
	lock, err := cron.NewRedisLock(client, client.LockKey(lockName), 0)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return lock, closeFn, nil
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, repo *outbox.Repository) (*cron.Registry, error) {
	sentJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		DB:         dbClient,
		Repository: repo,
		Days:       cfg.Retention.SentDays,
	})
	if err != nil {
		return nil, err
	}
	markerJob, err := cron.NewMarkerRetentionJob(cron.MarkerRetentionJobParams{
		DB:    dbClient,
		Guard: idempotency.NewGuard(dbClient.DB(), nil),
		Days:  cfg.Retention.MarkerDays,
	})
	if err != nil {
		return nil, err
	}
	reclaimJob, err := cron.NewLeaseReclaimJob(cron.LeaseReclaimJobParams{
		Logger:       logg,
		Repository:   repo,
		LeaseTimeout: cfg.Outbox.LeaseTimeout,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(sentJob, markerJob, reclaimJob)
}
