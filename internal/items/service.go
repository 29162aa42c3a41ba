package items

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	pkgerrors "github.com/angelmondragon/backoffice-relay/pkg/errors"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox"
	"github.com/angelmondragon/backoffice-relay/pkg/pagination"
)

// Service defines the tenant-scoped read operations over the outbox.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Item, error)
}

// Repository is the outbox surface the read API depends on.
type Repository interface {
	List(ctx context.Context, params outbox.ListParams) ([]models.OutboxEvent, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.OutboxEvent, error)
}

// ListParams configures a page request.
type ListParams struct {
	TenantID uuid.UUID
	Limit    int
	Cursor   string
}

// ListResult wraps returned items and, when more exist, the cursor for the next page.
type ListResult struct {
	Items []Item  `json:"items"`
	Next  *string `json:"next,omitempty"`
}

// Item is the public view of an outbox event.
type Item struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	EventType      string          `json:"event_type"`
	SchemaVersion  string          `json:"schema_version"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	TraceID        string          `json:"trace_id"`
	Status         string          `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	LastError      *string         `json:"last_error,omitempty"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toItem(row models.OutboxEvent) Item {
	return Item{
		ID:             row.ID,
		TenantID:       row.TenantID,
		EventType:      row.EventType,
		SchemaVersion:  row.SchemaVersion,
		IdempotencyKey: row.IdempotencyKey,
		TraceID:        row.TraceID,
		Status:         string(row.Status),
		AttemptCount:   row.AttemptCount,
		NextAttemptAt:  row.NextAttemptAt,
		LastError:      row.LastError,
		SentAt:         row.SentAt,
		Payload:        row.Payload,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

type service struct {
	repo   Repository
	codec  *pagination.Codec
	limits pagination.Limits
}

// NewService wires the read service dependencies.
func NewService(repo Repository, codec *pagination.Codec, limits pagination.Limits) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "items repository required")
	}
	if codec == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cursor codec required")
	}
	return &service{repo: repo, codec: codec, limits: limits}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	after, err := s.codec.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidCursor, err, "invalid cursor")
	}

	limit := s.limits.Normalize(params.Limit)
	rows, err := s.repo.List(ctx, outbox.ListParams{
		TenantID: params.TenantID,
		Limit:    s.limits.WithBuffer(params.Limit),
		After:    after,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list items")
	}

	result := &ListResult{Items: make([]Item, 0, min(len(rows), limit))}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	for _, row := range rows {
		result.Items = append(result.Items, toItem(row))
	}
	if hasMore {
		last := rows[len(rows)-1]
		next := s.codec.Encode(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		result.Next = &next
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Item, error) {
	row, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get item")
	}
	item := toItem(*row)
	return &item, nil
}
