package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/backoffice-relay/api/controllers"
	"github.com/angelmondragon/backoffice-relay/api/middleware"
	"github.com/angelmondragon/backoffice-relay/internal/deadletter"
	"github.com/angelmondragon/backoffice-relay/internal/items"
	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/redis"
	"github.com/angelmondragon/backoffice-relay/pkg/security"
	"github.com/angelmondragon/backoffice-relay/pkg/tenant"
)

// Dependencies is everything the router wires into handlers. Redis and
// Gatherer are optional.
type Dependencies struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       *redis.Client
	AdminTokens *security.TokenSet
	Service     *security.TokenSet
	ActorHasher *security.ActorHasher
	Tenants     *tenant.Allowlist
	Items       items.Service
	DeadLetters deadletter.Service
	Outbox      controllers.OutboxCounter
	Metrics     controllers.MetricsSource
	Gatherer    prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.TraceID(logg),
		middleware.Logging(logg),
	)

	var redisPinger controllers.Pinger
	var idempotencyStore redis.IdempotencyStore
	if deps.Redis != nil {
		redisPinger = deps.Redis
		idempotencyStore = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, redisPinger))
	})

	r.Route("/api/v1/ops", func(r chi.Router) {
		r.Use(middleware.AdminAuth(deps.AdminTokens, deps.ActorHasher, logg))

		r.Get("/dlq", controllers.ListDeadLetters(deps.DeadLetters, logg))
		r.With(middleware.Idempotency(idempotencyStore, logg)).
			Post("/dlq/replay", controllers.ReplayDeadLetters(deps.DeadLetters, logg))
		r.Get("/outbox", controllers.OutboxStatusCounts(deps.Outbox, logg))
		r.Get("/metrics", controllers.MetricsSnapshot(deps.Metrics))
		if deps.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics/prometheus", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		}
		r.Get("/tenants", controllers.TenantAllowlist(deps.Tenants))
	})

	r.Route("/api/v1/items", func(r chi.Router) {
		r.Use(
			middleware.ServiceAuth(deps.Service, deps.ActorHasher, deps.Tenants, logg),
			middleware.TenantRateLimit(cfg.Read.RateLimitPerMin, logg),
		)
		r.Get("/", controllers.ListItems(deps.Items, logg))
		r.Get("/{id}", controllers.GetItem(deps.Items, logg))
	})

	return r
}
