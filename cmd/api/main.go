package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/backoffice-relay/api/routes"
	"github.com/angelmondragon/backoffice-relay/internal/deadletter"
	"github.com/angelmondragon/backoffice-relay/internal/items"
	"github.com/angelmondragon/backoffice-relay/pkg/bootstrap"
	"github.com/angelmondragon/backoffice-relay/pkg/env"
	"github.com/angelmondragon/backoffice-relay/pkg/metrics"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox"
	"github.com/angelmondragon/backoffice-relay/pkg/pagination"
	"github.com/angelmondragon/backoffice-relay/pkg/redis"
	"github.com/angelmondragon/backoffice-relay/pkg/security"
	"github.com/angelmondragon/backoffice-relay/pkg/tenant"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	rt, err := bootstrap.Open(ctx, bootstrap.Options{Service: "api"})
	if err != nil {
		rt.Logger.Error(ctx, "failed to bootstrap api", err)
		return bootstrap.ExitCode(err)
	}
	defer rt.Close()

	cfg, logg := rt.Config, rt.Logger

	// redis backs Idempotency-Key replay only; without it the header is ignored
	var redisClient *redis.Client
	if cfg.Redis.Configured() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			return bootstrap.ExitFailure
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Warn(ctx, "redis not configured, idempotency keys disabled")
	}

	keys, err := security.DeriveKeys(cfg.Security.SigningSecret)
	if err != nil {
		logg.Error(ctx, "failed to derive signing keys", err)
		return bootstrap.ExitConfigError
	}
	codec, err := pagination.NewCodec(keys.Cursor)
	if err != nil {
		logg.Error(ctx, "failed to create cursor codec", err)
		return bootstrap.ExitConfigError
	}

	tenants, err := tenant.FromConfig(cfg)
	if err != nil {
		logg.Error(ctx, "failed to load tenant allowlist", err)
		return bootstrap.ExitConfigError
	}

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(rt.DB.DB())

	itemsService, err := items.NewService(outboxRepo, codec, pagination.Limits{
		Default: cfg.Read.DefaultLimit,
		Max:     cfg.Read.MaxLimit,
	})
	if err != nil {
		logg.Error(ctx, "failed to create items service", err)
		return bootstrap.ExitFailure
	}

	deadLetterService, err := deadletter.NewService(deadletter.ServiceParams{
		Tx:         rt.DB,
		Outbox:     outboxRepo,
		DLQ:        outbox.NewDLQRepository(rt.DB.DB()),
		Metrics:    recorder,
		Logger:     logg,
		MaxEntries: cfg.Read.ReplayMaxEntries,
	})
	if err != nil {
		logg.Error(ctx, "failed to create dead letter service", err)
		return bootstrap.ExitFailure
	}

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      logg,
		DB:          rt.DB,
		Redis:       redisClient,
		AdminTokens: security.NewTokenSet(cfg.Auth.AdminTokens),
		Service:     security.NewTokenSet(cfg.Auth.ServiceTokens),
		ActorHasher: security.NewActorHasher(keys.ActorHash),
		Tenants:     tenants,
		Items:       itemsService,
		DeadLetters: deadLetterService,
		Outbox:      outboxRepo,
		Metrics:     recorder,
		Gatherer:    prometheus.DefaultGatherer,
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)

	ctx = rt.WithFields(ctx, map[string]any{
		"addr":      addr,
		"transport": cfg.Transport.Kind,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			return bootstrap.ExitFailure
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shutting down gracefully")
	}
	return bootstrap.ExitOK
}
