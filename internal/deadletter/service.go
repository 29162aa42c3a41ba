package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/backoffice-relay/pkg/db"
	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	"github.com/angelmondragon/backoffice-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-relay/pkg/errors"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/metrics"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox"
)

const (
	defaultListLimit  = 50
	defaultMaxEntries = 500

	SkipAlreadyReplayed = "already_replayed"
	SkipActiveKey       = "active_idempotency_key"
)

// Service exposes the operator view of dead-lettered events.
type Service interface {
	List(ctx context.Context, tenantID *uuid.UUID, limit int) ([]Entry, error)
	Replay(ctx context.Context, params ReplayParams) (*ReplayResult, error)
}

// TxRunner runs fn inside a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Actor identifies who asked for a replay. Only the token hash is kept.
type Actor struct {
	TokenHash string
	Role      string
}

// ReplayParams selects entries to replay. DryRun defaults to true.
type ReplayParams struct {
	IDs      []uuid.UUID
	DryRun   *bool
	Limit    int
	TenantID *uuid.UUID
	Actor    Actor
	TraceID  string
}

func (p ReplayParams) dryRun() bool {
	return p.DryRun == nil || *p.DryRun
}

// Entry is the public view of a dead letter.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	EventID        uuid.UUID `json:"event_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	EventType      string    `json:"event_type"`
	SchemaVersion  string    `json:"schema_version"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	TraceID        string    `json:"trace_id"`
	Reason         string    `json:"reason"`
	LastError      *string   `json:"last_error,omitempty"`
	AttemptCount   int       `json:"attempt_count"`
	EventCreatedAt time.Time `json:"event_created_at"`
	FailedAt       time.Time `json:"failed_at"`
}

func toEntry(row models.DeadLetter) Entry {
	return Entry{
		ID:             row.ID,
		EventID:        row.EventID,
		TenantID:       row.TenantID,
		EventType:      row.EventType,
		SchemaVersion:  row.SchemaVersion,
		IdempotencyKey: row.IdempotencyKey,
		TraceID:        row.TraceID,
		Reason:         string(row.Reason),
		LastError:      row.LastError,
		AttemptCount:   row.AttemptCount,
		EventCreatedAt: row.EventCreatedAt,
		FailedAt:       row.FailedAt,
	}
}

// ReplayItem reports what happened to one selected entry.
type ReplayItem struct {
	DeadLetterID uuid.UUID  `json:"dead_letter_id"`
	EventID      uuid.UUID  `json:"event_id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	EventType    string     `json:"event_type"`
	Committed    bool       `json:"committed"`
	NewEventID   *uuid.UUID `json:"new_event_id,omitempty"`
	Skipped      string     `json:"skipped,omitempty"`
}

type ReplayResult struct {
	DryRun    bool         `json:"dry_run"`
	Selected  int          `json:"selected"`
	Committed int          `json:"committed"`
	Items     []ReplayItem `json:"items"`
}

// ServiceParams wires the dead-letter service.
type ServiceParams struct {
	Tx         TxRunner
	Outbox     *outbox.Repository
	DLQ        *outbox.DLQRepository
	Metrics    metrics.Sink
	Logger     *logger.Logger
	MaxEntries int
	Now        func() time.Time
}

type service struct {
	tx         TxRunner
	outbox     *outbox.Repository
	dlq        *outbox.DLQRepository
	metrics    metrics.Sink
	logg       *logger.Logger
	maxEntries int
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil || params.Outbox == nil || params.DLQ == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dead letter dependencies required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	sink := params.Metrics
	if sink == nil {
		sink = metrics.Discard
	}
	maxEntries := params.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:         params.Tx,
		outbox:     params.Outbox,
		dlq:        params.DLQ,
		metrics:    sink,
		logg:       params.Logger,
		maxEntries: maxEntries,
		now:        now,
	}, nil
}

func (s *service) List(ctx context.Context, tenantID *uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > s.maxEntries {
		limit = s.maxEntries
	}
	rows, err := s.dlq.List(ctx, tenantID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return entries, nil
}

// Replay re-enqueues selected entries as fresh pending events. Each entry is
// committed in its own transaction and only by the caller that removed it.
func (s *service) Replay(ctx context.Context, params ReplayParams) (*ReplayResult, error) {
	start := s.now()
	limit := params.Limit
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}

	selected, err := s.dlq.SelectForReplay(ctx, outbox.ReplayFilter{
		IDs:      params.IDs,
		TenantID: params.TenantID,
		Limit:    limit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select dead letters")
	}

	result := &ReplayResult{
		DryRun:   params.dryRun(),
		Selected: len(selected),
		Items:    make([]ReplayItem, 0, len(selected)),
	}
	for _, entry := range selected {
		item := ReplayItem{
			DeadLetterID: entry.ID,
			EventID:      entry.EventID,
			TenantID:     entry.TenantID,
			EventType:    entry.EventType,
		}
		if !result.DryRun {
			if err := s.replayOne(ctx, entry, &item); err != nil {
				s.audit(ctx, params, result, start)
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay dead letter")
			}
			if item.Committed {
				result.Committed++
				s.metrics.Increment(metrics.ReplayCommitted)
			}
		}
		s.metrics.Increment(metrics.ReplaySelected)
		result.Items = append(result.Items, item)
	}

	s.audit(ctx, params, result, start)
	return result, nil
}

var errActiveKey = errors.New("active idempotency key")

func (s *service) replayOne(ctx context.Context, entry models.DeadLetter, item *ReplayItem) error {
	now := s.now().UTC()
	row := &models.OutboxEvent{
		ID:             uuid.New(),
		TenantID:       entry.TenantID,
		EventType:      entry.EventType,
		SchemaVersion:  entry.SchemaVersion,
		IdempotencyKey: entry.IdempotencyKey,
		TraceID:        uuid.NewString(),
		Payload:        entry.Payload,
		Status:         enums.OutboxStatusPending,
		AttemptCount:   0,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	removed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		removed, err = s.dlq.DeleteTx(ctx, tx, entry.ID)
		if err != nil || !removed {
			return err
		}
		if err := s.outbox.Insert(tx.WithContext(ctx), row); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_outbox_events_active_idempotency") {
				return errActiveKey
			}
			return err
		}
		return nil
	})
	switch {
	case errors.Is(err, errActiveKey):
		item.Skipped = SkipActiveKey
		return nil
	case err != nil:
		return err
	case !removed:
		item.Skipped = SkipAlreadyReplayed
		return nil
	}
	item.Committed = true
	item.NewEventID = &row.ID
	return nil
}

func (s *service) audit(ctx context.Context, params ReplayParams, result *ReplayResult, start time.Time) {
	tenant := ""
	if params.TenantID != nil {
		tenant = params.TenantID.String()
	}
	ctx = s.logg.WithActorRole(ctx, params.Actor.Role)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event":            "dlq.replay",
		"actor_token_hash": params.Actor.TokenHash,
		"tenant_id":        tenant,
		"trace_id":         params.TraceID,
		"selected":         result.Selected,
		"committed":        result.Committed,
		"dry_run":          result.DryRun,
		"duration_ms":      s.now().Sub(start).Milliseconds(),
	})
	s.logg.Info(ctx, "dead letter replay")
}
