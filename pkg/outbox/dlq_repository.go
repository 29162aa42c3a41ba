package outbox

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
)

const defaultDLQListLimit = 50

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// List returns the newest entries first, optionally for one tenant.
func (r *DLQRepository) List(ctx context.Context, tenantID *uuid.UUID, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = defaultDLQListLimit
	}
	q := r.db.WithContext(ctx)
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	var rows []models.DeadLetter
	err := q.Order("failed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ReplayFilter narrows SelectForReplay.
type ReplayFilter struct {
	IDs      []uuid.UUID
	TenantID *uuid.UUID
	Limit    int
}

// SelectForReplay returns entries oldest first.
func (r *DLQRepository) SelectForReplay(ctx context.Context, filter ReplayFilter) ([]models.DeadLetter, error) {
	q := r.db.WithContext(ctx)
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.TenantID != nil {
		q = q.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []models.DeadLetter
	err := q.Order("failed_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// DeleteTx removes an entry and reports whether this call removed it.
func (r *DLQRepository) DeleteTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	if tx == nil {
		return false, ErrTransactionRequired
	}
	res := tx.WithContext(ctx).Where("id = ?", id).Delete(&models.DeadLetter{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Count reports entries, optionally for one tenant.
func (r *DLQRepository) Count(ctx context.Context, tenantID *uuid.UUID) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.DeadLetter{})
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}
