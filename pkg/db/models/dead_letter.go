package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-relay/pkg/enums"
)

// DeadLetter preserves an event that exhausted its attempts or was rejected
// permanently, so an operator can inspect and replay it.
type DeadLetter struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EventID        uuid.UUID              `gorm:"column:event_id;type:uuid;not null" json:"event_id"`
	TenantID       uuid.UUID              `gorm:"column:tenant_id;type:uuid;not null" json:"tenant_id"`
	EventType      string                 `gorm:"column:event_type;not null" json:"event_type"`
	SchemaVersion  string                 `gorm:"column:schema_version;not null" json:"schema_version"`
	IdempotencyKey *string                `gorm:"column:idempotency_key" json:"idempotency_key,omitempty"`
	TraceID        string                 `gorm:"column:trace_id;not null" json:"trace_id"`
	Payload        json.RawMessage        `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Reason         enums.DeadLetterReason `gorm:"column:reason;not null" json:"reason"`
	LastError      *string                `gorm:"column:last_error" json:"last_error,omitempty"`
	AttemptCount   int                    `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	EventCreatedAt time.Time              `gorm:"column:event_created_at;not null" json:"event_created_at"`
	FailedAt       time.Time              `gorm:"column:failed_at;not null" json:"failed_at"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
