package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Outbox       OutboxConfig
	Transport    TransportConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Auth         AuthConfig
	Tenants      TenantsConfig
	Read         ReadConfig
	Security     SecurityConfig
	Retention    RetentionConfig
}

// Load parses the environment and validates cross-field rules. Validation
// failures are returned as *ConfigError.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, &ConfigError{Problems: []string{err.Error()}}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, &ConfigError{Problems: []string{err.Error()}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RELAY_APP_ENV" required:"true"`
	Port         string `envconfig:"RELAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"RELAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RELAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RELAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RELAY_DB_DSN"`
	Driver string `envconfig:"RELAY_DB_DRIVER" default:"postgres"` // postgres | sqlite

	LegacyHost     string `envconfig:"RELAY_DB_HOST"`
	LegacyPort     int    `envconfig:"RELAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RELAY_DB_USER"`
	LegacyPassword string `envconfig:"RELAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"RELAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"RELAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RELAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RELAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RELAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RELAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"RELAY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RELAY_REDIS_URL"`
	Address      string        `envconfig:"RELAY_REDIS_ADDR"`
	Password     string        `envconfig:"RELAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"RELAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RELAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RELAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RELAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RELAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RELAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether any redis endpoint was provided.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RELAY_AUTO_MIGRATE" default:"false"`
}

const (
	RunModeService = "service"
	RunModeOnce    = "once"
)

type OutboxConfig struct {
	BatchSize      int             `envconfig:"RELAY_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration   `envconfig:"RELAY_OUTBOX_POLL_INTERVAL" default:"500ms"`
	MaxAttempts    int             `envconfig:"RELAY_OUTBOX_MAX_ATTEMPTS" default:"3"`
	BackoffSteps   []time.Duration `envconfig:"RELAY_OUTBOX_BACKOFF_STEPS" default:"5s,30s,5m"`
	LeaseTimeout   time.Duration   `envconfig:"RELAY_OUTBOX_LEASE_TIMEOUT" default:"2m"`
	RunMode        string          `envconfig:"RELAY_OUTBOX_RUN_MODE" default:"service"`
	Concurrency    int             `envconfig:"RELAY_OUTBOX_CONCURRENCY" default:"8"`
	PublishTimeout time.Duration   `envconfig:"RELAY_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	// MaxBatches caps one run in once mode; 0 drains until nothing is due.
	MaxBatches int `envconfig:"RELAY_OUTBOX_MAX_BATCHES" default:"20"`
}

const (
	TransportLog     = "log"
	TransportWebhook = "webhook"
	TransportPubSub  = "pubsub"
)

type TransportConfig struct {
	Kind string `envconfig:"RELAY_TRANSPORT" default:"log"`
}

type WebhookConfig struct {
	URL              string        `envconfig:"RELAY_WEBHOOK_URL"`
	Timeout          time.Duration `envconfig:"RELAY_WEBHOOK_TIMEOUT" default:"5s"`
	SuccessCodes     string        `envconfig:"RELAY_WEBHOOK_SUCCESS_CODES" default:"200-299"`
	HeadersAllowlist string        `envconfig:"RELAY_WEBHOOK_HEADERS_ALLOWLIST"`
	DomainAllowlist  string        `envconfig:"RELAY_WEBHOOK_DOMAIN_ALLOWLIST"`

	BreakerMaxRequests uint32        `envconfig:"RELAY_WEBHOOK_BREAKER_MAX_REQUESTS" default:"5"`
	BreakerInterval    time.Duration `envconfig:"RELAY_WEBHOOK_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout     time.Duration `envconfig:"RELAY_WEBHOOK_BREAKER_TIMEOUT" default:"10s"`
	BreakerFailures    uint32        `envconfig:"RELAY_WEBHOOK_BREAKER_FAILURES" default:"5"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"RELAY_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"RELAY_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	Topic         string `envconfig:"RELAY_PUBSUB_TOPIC"`
	OrderByTenant bool   `envconfig:"RELAY_PUBSUB_ORDER_BY_TENANT" default:"true"`
	VerifyTopic   bool   `envconfig:"RELAY_PUBSUB_VERIFY_TOPIC" default:"true"`
	EmulatorHost  string `envconfig:"RELAY_PUBSUB_EMULATOR_HOST"`
}

type AuthConfig struct {
	AdminTokens   []string `envconfig:"RELAY_ADMIN_TOKENS"`
	ServiceTokens []string `envconfig:"RELAY_SERVICE_TOKENS"`
}

type TenantsConfig struct {
	Allowlist     []string      `envconfig:"RELAY_TENANT_ALLOWLIST"`
	AllowlistPath string        `envconfig:"RELAY_TENANT_ALLOWLIST_PATH"`
	Refresh       time.Duration `envconfig:"RELAY_TENANT_ALLOWLIST_REFRESH" default:"0s"`
}

type ReadConfig struct {
	DefaultLimit     int `envconfig:"RELAY_READ_DEFAULT_LIMIT" default:"50"`
	MaxLimit         int `envconfig:"RELAY_READ_MAX_LIMIT" default:"100"`
	RateLimitPerMin  int `envconfig:"RELAY_READ_RATE_LIMIT_PER_MIN" default:"600"`
	ReplayMaxEntries int `envconfig:"RELAY_REPLAY_MAX_ENTRIES" default:"500"`
}

type SecurityConfig struct {
	SigningSecret string `envconfig:"RELAY_SIGNING_SECRET" required:"true"`
}

type RetentionConfig struct {
	SentDays   int           `envconfig:"RELAY_RETENTION_SENT_DAYS" default:"30"`
	MarkerDays int           `envconfig:"RELAY_RETENTION_MARKER_DAYS" default:"0"`
	Interval   time.Duration `envconfig:"RELAY_RETENTION_INTERVAL" default:"1h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
