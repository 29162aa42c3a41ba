package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent marks (tenant, event type, idempotency key) as delivered.
type ProcessedEvent struct {
	TenantID       uuid.UUID `gorm:"column:tenant_id;type:uuid;primaryKey"`
	EventType      string    `gorm:"column:event_type;primaryKey"`
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
