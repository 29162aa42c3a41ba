// Package transport delivers claimed outbox events to their destination.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/pubsub"
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomePermanent Outcome = "permanent"
)

// Result is what a transport reports back to the publisher. Detail is a short
// machine-friendly reason and never carries secrets.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Detail     string
}

func (r Result) Error() string {
	if r.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", r.Outcome, r.Detail, r.StatusCode)
	}
	return fmt.Sprintf("%s: %s", r.Outcome, r.Detail)
}

func success(status int) Result {
	return Result{Outcome: OutcomeSuccess, StatusCode: status, Detail: "delivered"}
}

func retryable(status int, detail string) Result {
	return Result{Outcome: OutcomeRetryable, StatusCode: status, Detail: detail}
}

func permanent(status int, detail string) Result {
	return Result{Outcome: OutcomePermanent, StatusCode: status, Detail: detail}
}

// Event is the transport view of an outbox row.
type Event struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	EventType      string
	SchemaVersion  string
	IdempotencyKey string
	TraceID        string
	Payload        json.RawMessage
	Attempt        int
	CreatedAt      time.Time
}

func FromModel(row models.OutboxEvent) Event {
	return Event{
		ID:             row.ID,
		TenantID:       row.TenantID,
		EventType:      row.EventType,
		SchemaVersion:  row.SchemaVersion,
		IdempotencyKey: row.Key(),
		TraceID:        row.TraceID,
		Payload:        row.Payload,
		Attempt:        row.AttemptCount + 1,
		CreatedAt:      row.CreatedAt,
	}
}

// Attributes are the metadata sent alongside the payload.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{
		"event_id":       e.ID.String(),
		"tenant_id":      e.TenantID.String(),
		"event_type":     e.EventType,
		"schema_version": e.SchemaVersion,
		"trace_id":       e.TraceID,
	}
	if e.IdempotencyKey != "" {
		attrs["idempotency_key"] = e.IdempotencyKey
	}
	return attrs
}

type Transport interface {
	Name() string
	Deliver(ctx context.Context, event Event) Result
	Close() error
}

// New builds the configured transport. An unknown kind is a *config.ConfigError.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Kind)) {
	case config.TransportLog:
		return NewLog(logg), nil
	case config.TransportWebhook:
		return NewWebhook(WebhookOptionsFromConfig(cfg.Webhook), logg)
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		return NewPubSub(client), nil
	default:
		return nil, &config.ConfigError{Problems: []string{
			fmt.Sprintf("%s=%q is not a known transport (log, webhook, pubsub)", config.EnvTransport, cfg.Transport.Kind),
		}}
	}
}
