package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-relay/pkg/enums"
)

// OutboxEvent is a unit of work written alongside a business change and
// delivered asynchronously by the publisher.
type OutboxEvent struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID          `gorm:"column:tenant_id;type:uuid;not null" json:"tenant_id"`
	EventType      string             `gorm:"column:event_type;not null" json:"event_type"`
	SchemaVersion  string             `gorm:"column:schema_version;not null;default:1.0" json:"schema_version"`
	IdempotencyKey *string            `gorm:"column:idempotency_key" json:"idempotency_key,omitempty"`
	TraceID        string             `gorm:"column:trace_id;not null" json:"trace_id"`
	Payload        json.RawMessage    `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Status         enums.OutboxStatus `gorm:"column:status;not null" json:"status"`
	AttemptCount   int                `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	NextAttemptAt  time.Time          `gorm:"column:next_attempt_at;not null" json:"next_attempt_at"`
	LeasedAt       *time.Time         `gorm:"column:leased_at" json:"-"`
	LeaseOwner     *string            `gorm:"column:lease_owner" json:"-"`
	LastError      *string            `gorm:"column:last_error" json:"last_error,omitempty"`
	SentAt         *time.Time         `gorm:"column:sent_at" json:"sent_at,omitempty"`
	CreatedAt      time.Time          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Key returns the idempotency key or "" when the event carries none.
func (e OutboxEvent) Key() string {
	if e.IdempotencyKey == nil {
		return ""
	}
	return *e.IdempotencyKey
}
