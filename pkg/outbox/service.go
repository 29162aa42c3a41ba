package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/backoffice-relay/pkg/db"
	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	"github.com/angelmondragon/backoffice-relay/pkg/enums"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox/idempotency"
)

const (
	DefaultSchemaVersion = "1.0"

	activeKeyIndex = "ux_outbox_events_active_idempotency"
)

// EnqueueParams describes an event written next to a business change.
type EnqueueParams struct {
	TenantID       uuid.UUID
	EventType      string
	SchemaVersion  string
	IdempotencyKey string
	TraceID        string
	// Payload is stored as-is when it is json.RawMessage or []byte, and
	// marshalled otherwise.
	Payload any
	// Delay postpones the first attempt.
	Delay time.Duration
}

type Service struct {
	repo  *Repository
	guard *idempotency.Guard
	logg  *logger.Logger
	now   func() time.Time
}

func NewService(repo *Repository, guard *idempotency.Guard, logg *logger.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, guard: guard, logg: logg, now: now}
}

// Enqueue inserts a pending row inside the caller's transaction.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, params EnqueueParams) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, ErrTransactionRequired
	}
	if params.TenantID == uuid.Nil {
		return uuid.Nil, errors.New("tenant id is required")
	}
	eventType := strings.TrimSpace(params.EventType)
	if eventType == "" {
		return uuid.Nil, errors.New("event type is required")
	}
	if params.Delay < 0 {
		return uuid.Nil, errors.New("delay must not be negative")
	}

	payload, err := encodePayload(params.Payload)
	if err != nil {
		return uuid.Nil, err
	}

	var key *string
	if k := strings.TrimSpace(params.IdempotencyKey); k != "" {
		key = &k
		if s.guard != nil {
			seen, err := s.guard.SeenTx(ctx, tx, params.TenantID, eventType, k)
			if err != nil {
				return uuid.Nil, err
			}
			if seen {
				return uuid.Nil, ErrDuplicateIdempotencyKey
			}
		}
	}

	traceID := strings.TrimSpace(params.TraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	version := strings.TrimSpace(params.SchemaVersion)
	if version == "" {
		version = DefaultSchemaVersion
	}

	now := s.now().UTC()
	row := &models.OutboxEvent{
		ID:             uuid.New(),
		TenantID:       params.TenantID,
		EventType:      eventType,
		SchemaVersion:  version,
		IdempotencyKey: key,
		TraceID:        traceID,
		Payload:        payload,
		Status:         enums.OutboxStatusPending,
		NextAttemptAt:  now.Add(params.Delay),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// the savepoint keeps the caller's transaction usable when the active-key
	// index rejects the row, so a duplicate can be treated as a no-op
	err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return s.repo.Insert(sp, row)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, activeKeyIndex) {
			return uuid.Nil, ErrDuplicateIdempotencyKey
		}
		return uuid.Nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithEvent(ctx, logger.EventFields{
			ID:       row.ID.String(),
			Type:     eventType,
			TenantID: params.TenantID.String(),
			TraceID:  traceID,
		}), "outbox event queued")
	}
	return row.ID, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		raw = []byte("{}")
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload must be valid json")
	}
	return json.RawMessage(raw), nil
}
