package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	"github.com/angelmondragon/backoffice-relay/pkg/enums"
	"github.com/angelmondragon/backoffice-relay/pkg/pagination"
)

const claimableCondition = "((status = ? AND next_attempt_at <= ?) OR (status = ? AND leased_at < ?))"

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return ErrTransactionRequired
	}
	return tx.Create(event).Error
}

// ClaimBatch leases up to limit due rows to owner. Rows that are pending and
// due, or processing with a lease older than leaseTimeout, are eligible. Each
// row is taken with a conditional update so two workers never share one.
func (r *Repository) ClaimBatch(ctx context.Context, owner string, limit int, now time.Time, leaseTimeout time.Duration) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	cutoff := now.Add(-leaseTimeout)

	var claimed []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.OutboxEvent
		q := tx.Where(claimableCondition, enums.OutboxStatusPending, now, enums.OutboxStatusProcessing, cutoff).
			Order("next_attempt_at ASC").
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}

		for _, row := range candidates {
			res := tx.Model(&models.OutboxEvent{}).
				Where("id = ?", row.ID).
				Where(claimableCondition, enums.OutboxStatusPending, now, enums.OutboxStatusProcessing, cutoff).
				Updates(map[string]any{
					"status":      enums.OutboxStatusProcessing,
					"leased_at":   now,
					"lease_owner": owner,
					"updated_at":  now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				continue
			}
			leasedAt, leaseOwner := now, owner
			row.Status = enums.OutboxStatusProcessing
			row.LeasedAt = &leasedAt
			row.LeaseOwner = &leaseOwner
			row.UpdatedAt = now
			claimed = append(claimed, row)
		}
		return nil
	})
	return claimed, err
}

// MarkSent finalizes a row held by owner.
func (r *Repository) MarkSent(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner string, now time.Time) error {
	return settleLease(ctx, tx, id, owner, enums.OutboxStatusSent, map[string]any{
		"sent_at":     now,
		"leased_at":   nil,
		"lease_owner": nil,
		"last_error":  nil,
		"updated_at":  now,
	})
}

// MarkFailed records a retryable failure and schedules the next attempt.
func (r *Repository) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner string, cause error, nextAttemptAt, now time.Time) error {
	return settleLease(ctx, tx, id, owner, enums.OutboxStatusPending, map[string]any{
		"attempt_count":   gorm.Expr("attempt_count + 1"),
		"last_error":      sanitizedPtr(cause),
		"next_attempt_at": nextAttemptAt,
		"leased_at":       nil,
		"lease_owner":     nil,
		"updated_at":      now,
	})
}

// settleLease moves a processing row held by owner to next.
func settleLease(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner string, next enums.OutboxStatus, fields map[string]any) error {
	if !enums.OutboxStatusProcessing.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, enums.OutboxStatusProcessing, next)
	}
	if tx == nil {
		return ErrTransactionRequired
	}
	fields["status"] = next
	res := tx.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND lease_owner = ?", id, enums.OutboxStatusProcessing, owner).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrLeaseLost
	}
	return nil
}

// MoveToDeadLetter copies the event into dead_letters and removes it from the
// outbox in the caller's transaction. event.AttemptCount is stored as given.
func (r *Repository) MoveToDeadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.DeadLetterReason, cause error, now time.Time) (*models.DeadLetter, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}
	if !reason.IsValid() {
		return nil, fmt.Errorf("unknown dead letter reason %q", reason)
	}
	if event.LeaseOwner == nil {
		return nil, ErrLeaseLost
	}
	tx = tx.WithContext(ctx)

	res := tx.Where("id = ? AND status = ? AND lease_owner = ?", event.ID, enums.OutboxStatusProcessing, *event.LeaseOwner).
		Delete(&models.OutboxEvent{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, ErrLeaseLost
	}

	entry := &models.DeadLetter{
		ID:             uuid.New(),
		EventID:        event.ID,
		TenantID:       event.TenantID,
		EventType:      event.EventType,
		SchemaVersion:  event.SchemaVersion,
		IdempotencyKey: event.IdempotencyKey,
		TraceID:        event.TraceID,
		Payload:        event.Payload,
		Reason:         reason,
		LastError:      sanitizedPtr(cause),
		AttemptCount:   event.AttemptCount,
		EventCreatedAt: event.CreatedAt,
		FailedAt:       now,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// ReclaimExpiredLeases returns processing rows leased before cutoff to pending.
// attempt_count is untouched since the attempt outcome is unknown.
func (r *Repository) ReclaimExpiredLeases(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ? AND leased_at < ?", enums.OutboxStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":          enums.OutboxStatusPending,
			"leased_at":       nil,
			"lease_owner":     nil,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	return res.RowsAffected, res.Error
}

type statusCount struct {
	Status enums.OutboxStatus
	Total  int64
}

// CountByStatus reports every status, dead_letter included, optionally for
// one tenant.
func (r *Repository) CountByStatus(ctx context.Context, tenantID *uuid.UUID) (map[enums.OutboxStatus]int64, error) {
	counts := make(map[enums.OutboxStatus]int64, len(enums.OutboxStatuses()))
	for _, s := range enums.OutboxStatuses() {
		counts[s] = 0
	}

	var rows []statusCount
	q := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status")
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}

	dead, err := NewDLQRepository(r.db).Count(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	counts[enums.OutboxStatusDeadLetter] = dead
	return counts, nil
}

// ListParams selects a keyset page. Limit is used as given.
type ListParams struct {
	TenantID uuid.UUID
	Limit    int
	After    *pagination.Cursor
}

// List returns rows for a tenant ordered by (created_at DESC, id DESC),
// strictly after the cursor when one is given.
func (r *Repository) List(ctx context.Context, params ListParams) ([]models.OutboxEvent, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ?", params.TenantID)
	if params.After != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			params.After.CreatedAt, params.After.CreatedAt, params.After.ID)
	}

	var rows []models.OutboxEvent
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(params.Limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// DeleteSentBefore removes sent rows older than cutoff.
func (r *Repository) DeleteSentBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, ErrTransactionRequired
	}
	res := tx.WithContext(ctx).
		Where("status = ? AND sent_at < ?", enums.OutboxStatusSent, cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
