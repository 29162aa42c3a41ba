package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	"github.com/angelmondragon/backoffice-relay/pkg/enums"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/metrics"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox"
	"github.com/angelmondragon/backoffice-relay/pkg/transport"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 3
	defaultLeaseTimeout   = 2 * time.Minute
	defaultConcurrency    = 8
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	ClaimBatch(ctx context.Context, owner string, limit int, now time.Time, leaseTimeout time.Duration) ([]models.OutboxEvent, error)
	MarkSent(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner string, now time.Time) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner string, cause error, nextAttemptAt, now time.Time) error
	MoveToDeadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.DeadLetterReason, cause error, now time.Time) (*models.DeadLetter, error)
}

type markerGuard interface {
	Seen(ctx context.Context, tenantID uuid.UUID, eventType, key string) (bool, error)
	CheckAndMark(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, eventType, key string) (bool, error)
}

type tenantChecker interface {
	Allowed(id uuid.UUID) bool
}

type ServiceParams struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	Repository outboxRepository
	Guard      markerGuard
	Transport  transport.Transport
	// Tenants re-checks each event before delivery. Nil skips the check.
	Tenants tenantChecker
	Metrics metrics.Sink
	Owner   string
	Now     func() time.Time
	Sleep   func(context.Context, time.Duration) error
}

type Service struct {
	logg      *logger.Logger
	db        dbClient
	repo      outboxRepository
	guard     markerGuard
	transport transport.Transport
	tenants   tenantChecker
	metrics   metrics.Sink
	owner     string
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	leaseTimeout   time.Duration
	publishTimeout time.Duration
	concurrency    int
	maxBatches     int
	backoff        outbox.BackoffSchedule
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if params.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if params.Owner == "" {
		return nil, errors.New("lease owner is required")
	}

	cfg := params.Config
	svc := &Service{
		logg:           params.Logger,
		db:             params.DB,
		repo:           params.Repository,
		guard:          params.Guard,
		transport:      params.Transport,
		tenants:        params.Tenants,
		metrics:        params.Metrics,
		owner:          params.Owner,
		now:            params.Now,
		sleep:          params.Sleep,
		batchSize:      positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:    positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		concurrency:    positiveOr(cfg.Concurrency, defaultConcurrency),
		maxBatches:     max(cfg.MaxBatches, 0),
		pollInterval:   durationOr(cfg.PollInterval, defaultPollInterval),
		leaseTimeout:   durationOr(cfg.LeaseTimeout, defaultLeaseTimeout),
		publishTimeout: durationOr(cfg.PublishTimeout, defaultPublishTimeout),
		backoff:        outbox.BackoffSchedule(cfg.BackoffSteps),
	}
	if svc.metrics == nil {
		svc.metrics = metrics.Discard
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.sleep == nil {
		svc.sleep = sleepContext
	}
	return svc, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Run claims and delivers batches until ctx is cancelled. It only sleeps when
// a claim comes back empty or fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		}

		claimed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox publisher batch error", err)
		}
		if err == nil && claimed > 0 {
			continue
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
}

// RunOnce drains due events and returns when a claim finds nothing or after
// maxBatches batches, whichever comes first. A zero maxBatches never stops
// early.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	if err := s.ensureReadiness(ctx); err != nil {
		return 0, err
	}

	total := 0
	for batch := 0; ; batch++ {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if s.maxBatches > 0 && batch == s.maxBatches {
			s.logg.Info(s.logg.WithField(ctx, "max_batches", s.maxBatches), "outbox publisher batch cap reached")
			return total, nil
		}
		claimed, err := s.processBatch(ctx)
		total += claimed
		if err != nil {
			return total, err
		}
		if claimed == 0 {
			return total, nil
		}
	}
}

// processBatch leases one batch and settles every claimed event before
// returning, even when ctx is cancelled midway.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	events, err := s.repo.ClaimBatch(ctx, s.owner, s.batchSize, s.now().UTC(), s.leaseTimeout)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	workCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, event := range events {
		g.Go(func() error {
			return s.handle(workCtx, event)
		})
	}
	return len(events), g.Wait()
}

func (s *Service) handle(ctx context.Context, event models.OutboxEvent) error {
	start := s.now()
	ctx = s.withEvent(ctx, event)
	s.metrics.Observe(metrics.PublisherLagMS, millis(start.Sub(event.CreatedAt)))
	defer func() {
		s.metrics.Observe(metrics.PublishDurationMS, millis(s.now().Sub(start)))
	}()

	if s.tenants != nil && !s.tenants.Allowed(event.TenantID) {
		err := s.deadLetter(ctx, event, enums.DeadLetterReasonTenantUnknown, errors.New("tenant_unknown"))
		if err == nil {
			s.metrics.Increment(metrics.TenantUnknownDropped)
		}
		return s.settled(ctx, event, err)
	}

	if key := event.Key(); key != "" {
		seen, err := s.guard.Seen(ctx, event.TenantID, event.EventType, key)
		if err != nil {
			return fmt.Errorf("check marker %s: %w", event.ID, err)
		}
		if seen {
			err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
				return s.repo.MarkSent(ctx, tx, event.ID, s.owner, s.now().UTC())
			})
			if err == nil {
				s.metrics.Increment(metrics.PublisherDuplicatesSkipped)
				s.logg.Info(ctx, "outbox event already delivered, skipping")
			}
			return s.settled(ctx, event, err)
		}
	}

	s.metrics.Increment(metrics.PublisherAttempts)
	deliverCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	result := s.transport.Deliver(deliverCtx, transport.FromModel(event))
	cancel()

	switch result.Outcome {
	case transport.OutcomeSuccess:
		return s.settled(ctx, event, s.markSent(ctx, event))
	case transport.OutcomePermanent:
		s.metrics.Increment(metrics.PublisherFailures)
		event.AttemptCount++
		return s.settled(ctx, event, s.deadLetter(ctx, event, enums.DeadLetterReasonNonRetryable, result))
	default:
		s.metrics.Increment(metrics.PublisherFailures)
		return s.settled(ctx, event, s.retryOrExhaust(ctx, event, result))
	}
}

func (s *Service) markSent(ctx context.Context, event models.OutboxEvent) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		if err := s.repo.MarkSent(ctx, tx, event.ID, s.owner, now); err != nil {
			return err
		}
		if key := event.Key(); key != "" {
			if _, err := s.guard.CheckAndMark(ctx, tx, event.TenantID, event.EventType, key); err != nil {
				return fmt.Errorf("mark processed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.Increment(metrics.PublisherSent)
	s.logg.Info(s.logg.WithField(ctx, "transport", s.transport.Name()), "outbox event published")
	return nil
}

func (s *Service) retryOrExhaust(ctx context.Context, event models.OutboxEvent, cause transport.Result) error {
	attempt := event.AttemptCount + 1
	if attempt >= s.maxAttempts {
		event.AttemptCount = attempt
		return s.deadLetter(ctx, event, enums.DeadLetterReasonMaxAttempts, cause)
	}

	now := s.now().UTC()
	next := now.Add(s.backoff.Delay(attempt))
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.MarkFailed(ctx, tx, event.ID, s.owner, cause, next, now)
	})
	if err != nil {
		return err
	}
	fields := map[string]any{
		"attempt_count":   attempt,
		"next_attempt_at": next.Format(time.RFC3339Nano),
		"error":           cause.Error(),
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed, retry scheduled")
	return nil
}

func (s *Service) deadLetter(ctx context.Context, event models.OutboxEvent, reason enums.DeadLetterReason, cause error) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.repo.MoveToDeadLetter(ctx, tx, event, reason, cause, s.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	s.metrics.Increment(metrics.PublisherDeadLettered)
	fields := map[string]any{
		"reason":        string(reason),
		"attempt_count": event.AttemptCount,
		"error":         cause.Error(),
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event moved to dead letter")
	return nil
}

// settled turns a lost lease into a warning. Another worker reclaimed the row
// and owns its outcome now.
func (s *Service) settled(ctx context.Context, event models.OutboxEvent, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, outbox.ErrLeaseLost) {
		s.logg.Warn(ctx, "outbox lease lost before settling event")
		return nil
	}
	return fmt.Errorf("settle %s: %w", event.ID, err)
}

func (s *Service) withEvent(ctx context.Context, event models.OutboxEvent) context.Context {
	ctx = s.logg.WithEvent(ctx, logger.EventFields{
		ID:       event.ID.String(),
		Type:     event.EventType,
		TenantID: event.TenantID.String(),
		TraceID:  event.TraceID,
		Attempt:  event.AttemptCount + 1,
	})
	if event.LastError != nil {
		ctx = s.logg.WithField(ctx, "last_error", *event.LastError)
	}
	return ctx
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func millis(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
