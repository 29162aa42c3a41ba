// Package idempotency records which (tenant, event type, key) triples were
// already delivered so neither the publisher nor a consumer acts twice.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
)

var (
	ErrKeyRequired         = errors.New("idempotency key is required")
	ErrTransactionRequired = errors.New("transaction required")
)

// Guard is backed by the processed_events table.
type Guard struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGuard(db *gorm.DB, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{db: db, now: now}
}

// CheckAndMark inserts the marker inside tx and reports whether it is new.
// A single insert-or-ignore decides, so concurrent callers cannot both win.
func (g *Guard) CheckAndMark(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, eventType, key string) (bool, error) {
	if tx == nil {
		return false, ErrTransactionRequired
	}
	if strings.TrimSpace(key) == "" {
		return false, ErrKeyRequired
	}
	marker := models.ProcessedEvent{
		TenantID:       tenantID,
		EventType:      eventType,
		IdempotencyKey: key,
		CreatedAt:      g.now().UTC(),
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Seen reports whether a marker exists, without writing.
func (g *Guard) Seen(ctx context.Context, tenantID uuid.UUID, eventType, key string) (bool, error) {
	return g.SeenTx(ctx, g.db, tenantID, eventType, key)
}

// SeenTx is Seen against the given connection or transaction.
func (g *Guard) SeenTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, eventType, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	var count int64
	err := tx.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("tenant_id = ? AND event_type = ? AND idempotency_key = ?", tenantID, eventType, key).
		Count(&count).Error
	return count > 0, err
}

// Process runs fn and writes the marker in one transaction. Duplicates skip fn
// and return false. An fn error rolls the marker back.
func (g *Guard) Process(ctx context.Context, tenantID uuid.UUID, eventType, key string, fn func(tx *gorm.DB) error) (bool, error) {
	processed := false
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		isNew, err := g.CheckAndMark(ctx, tx, tenantID, eventType, key)
		if err != nil || !isNew {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		processed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return processed, nil
}

// DeleteBefore drops markers older than cutoff.
func (g *Guard) DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, ErrTransactionRequired
	}
	res := tx.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
