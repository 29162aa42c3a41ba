package config

const (
	EnvPrefix = "RELAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv   = "RELAY_APP_ENV"
	EnvPort     = "RELAY_APP_PORT"
	EnvLogLevel = "RELAY_LOG_LEVEL"

	EnvDBDSN  = "RELAY_DB_DSN"
	EnvDBHost = "RELAY_DB_HOST"
	EnvDBUser = "RELAY_DB_USER"
	EnvDBName = "RELAY_DB_NAME"

	EnvRedisURL = "RELAY_REDIS_URL"

	EnvOutboxBatchSize      = "RELAY_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts    = "RELAY_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxBackoffSteps   = "RELAY_OUTBOX_BACKOFF_STEPS"
	EnvOutboxLeaseTimeout   = "RELAY_OUTBOX_LEASE_TIMEOUT"
	EnvOutboxRunMode        = "RELAY_OUTBOX_RUN_MODE"
	EnvOutboxConcurrency    = "RELAY_OUTBOX_CONCURRENCY"
	EnvOutboxPublishTimeout = "RELAY_OUTBOX_PUBLISH_TIMEOUT"
	EnvOutboxMaxBatches     = "RELAY_OUTBOX_MAX_BATCHES"

	EnvTransport = "RELAY_TRANSPORT"

	EnvWebhookURL              = "RELAY_WEBHOOK_URL"
	EnvWebhookTimeout          = "RELAY_WEBHOOK_TIMEOUT"
	EnvWebhookSuccessCodes     = "RELAY_WEBHOOK_SUCCESS_CODES"
	EnvWebhookHeadersAllowlist = "RELAY_WEBHOOK_HEADERS_ALLOWLIST"
	EnvWebhookDomainAllowlist  = "RELAY_WEBHOOK_DOMAIN_ALLOWLIST"

	EnvGCPProjectID  = "RELAY_GCP_PROJECT_ID"
	EnvPubSubTopic   = "RELAY_PUBSUB_TOPIC"
	EnvAdminTokens   = "RELAY_ADMIN_TOKENS"
	EnvServiceTokens = "RELAY_SERVICE_TOKENS"

	EnvTenantAllowlist     = "RELAY_TENANT_ALLOWLIST"
	EnvTenantAllowlistPath = "RELAY_TENANT_ALLOWLIST_PATH"

	EnvReadMaxLimit  = "RELAY_READ_MAX_LIMIT"
	EnvSigningSecret = "RELAY_SIGNING_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
