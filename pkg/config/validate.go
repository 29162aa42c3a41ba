package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

const minSigningSecretLen = 32

// ConfigError is returned when the environment describes a configuration the
// binaries must refuse to start with.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// Validate checks the rules envconfig cannot express.
func (c *Config) Validate() error {
	var err error

	if len(c.Security.SigningSecret) < minSigningSecretLen {
		err = multierr.Append(err, fmt.Errorf("%s must be at least %d bytes", EnvSigningSecret, minSigningSecretLen))
	}
	switch c.DB.Driver {
	case DBDriverPostgres, DBDriverSQLite:
	default:
		err = multierr.Append(err, fmt.Errorf("RELAY_DB_DRIVER must be %q or %q, got %q", DBDriverPostgres, DBDriverSQLite, c.DB.Driver))
	}
	err = multierr.Append(err, c.Outbox.validate())
	err = multierr.Append(err, c.validateTransport())
	err = multierr.Append(err, c.Auth.validate())
	if c.Read.MaxLimit <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvReadMaxLimit))
	}
	if c.Tenants.AllowlistPath != "" && len(c.Tenants.Allowlist) > 0 {
		err = multierr.Append(err, fmt.Errorf("set only one of %s and %s", EnvTenantAllowlist, EnvTenantAllowlistPath))
	}

	if err == nil {
		return nil
	}
	problems := []string{}
	for _, e := range multierr.Errors(err) {
		problems = append(problems, e.Error())
	}
	return &ConfigError{Problems: problems}
}

func (o OutboxConfig) validate() error {
	var err error
	if o.BatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvOutboxBatchSize))
	}
	if o.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvOutboxMaxAttempts))
	}
	if o.LeaseTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvOutboxLeaseTimeout))
	}
	if o.Concurrency <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvOutboxConcurrency))
	}
	if o.PublishTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvOutboxPublishTimeout))
	}
	if o.MaxBatches < 0 {
		err = multierr.Append(err, fmt.Errorf("%s must not be negative", EnvOutboxMaxBatches))
	}
	switch o.RunMode {
	case RunModeService, RunModeOnce:
	default:
		err = multierr.Append(err, fmt.Errorf("%s must be %q or %q, got %q", EnvOutboxRunMode, RunModeService, RunModeOnce, o.RunMode))
	}
	if len(o.BackoffSteps) == 0 {
		err = multierr.Append(err, fmt.Errorf("%s must list at least one delay", EnvOutboxBackoffSteps))
	}
	for i, step := range o.BackoffSteps {
		if step <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s[%d] must be positive", EnvOutboxBackoffSteps, i))
			continue
		}
		if i > 0 && step < o.BackoffSteps[i-1] {
			err = multierr.Append(err, fmt.Errorf("%s must be non-decreasing", EnvOutboxBackoffSteps))
		}
	}
	return err
}

func (c *Config) validateTransport() error {
	switch c.Transport.Kind {
	case TransportLog:
		return nil
	case TransportWebhook:
		if strings.TrimSpace(c.Webhook.URL) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvWebhookURL, EnvTransport, TransportWebhook)
		}
		if c.Webhook.Timeout <= 0 {
			return fmt.Errorf("%s must be positive", EnvWebhookTimeout)
		}
		return nil
	case TransportPubSub:
		var err error
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvTransport, TransportPubSub))
		}
		if strings.TrimSpace(c.PubSub.Topic) == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required when %s=%s", EnvPubSubTopic, EnvTransport, TransportPubSub))
		}
		return err
	default:
		return fmt.Errorf("%s=%q is not a known transport (log, webhook, pubsub)", EnvTransport, c.Transport.Kind)
	}
}

func (a AuthConfig) validate() error {
	admins := map[string]struct{}{}
	for _, token := range a.AdminTokens {
		if t := strings.TrimSpace(token); t != "" {
			admins[t] = struct{}{}
		}
	}
	for _, token := range a.ServiceTokens {
		if _, ok := admins[strings.TrimSpace(token)]; ok {
			return fmt.Errorf("%s and %s must not share tokens", EnvAdminTokens, EnvServiceTokens)
		}
	}
	return nil
}
