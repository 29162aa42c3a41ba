package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

const (
	defaultSentRetentionDays = 30
	day                      = 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sentRetentionRepo interface {
	DeleteSentBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type markerRetentionRepo interface {
	DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type leaseReclaimRepo interface {
	ReclaimExpiredLeases(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// retentionJob deletes rows older than a day-based cutoff in one transaction.
type retentionJob struct {
	name   string
	db     txRunner
	days   int
	now    func() time.Time
	delete func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) (Result, error) {
	cutoff := j.now().UTC().Add(-time.Duration(j.days) * day)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		deleted, err = j.delete(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", j.name, err)
	}
	return Result{
		Affected: deleted,
		Fields:   map[string]any{"cutoff": cutoff, "retention_days": j.days},
	}, nil
}

type OutboxRetentionJobParams struct {
	DB         txRunner
	Repository sentRetentionRepo
	Days       int
	Now        func() time.Time
}

// NewOutboxRetentionJob deletes sent outbox rows whose sent_at is older than
// Days. Pending, processing and dead-lettered rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.DB == nil || params.Repository == nil {
		return nil, errors.New("outbox retention needs a db runner and repository")
	}
	days := params.Days
	if days <= 0 {
		days = defaultSentRetentionDays
	}
	return &retentionJob{
		name:   "outbox-retention",
		db:     params.DB,
		days:   days,
		now:    nowOrDefault(params.Now),
		delete: params.Repository.DeleteSentBefore,
	}, nil
}

type MarkerRetentionJobParams struct {
	DB    txRunner
	Guard markerRetentionRepo
	Days  int
	Now   func() time.Time
}

// NewMarkerRetentionJob deletes processed-event markers older than Days.
// With Days at zero markers are kept forever and no job is returned.
func NewMarkerRetentionJob(params MarkerRetentionJobParams) (Job, error) {
	if params.Days <= 0 {
		return nil, nil
	}
	if params.DB == nil || params.Guard == nil {
		return nil, errors.New("marker retention needs a db runner and guard")
	}
	return &retentionJob{
		name:   "marker-retention",
		db:     params.DB,
		days:   params.Days,
		now:    nowOrDefault(params.Now),
		delete: params.Guard.DeleteBefore,
	}, nil
}

type LeaseReclaimJobParams struct {
	Logger       *logger.Logger
	Repository   leaseReclaimRepo
	LeaseTimeout time.Duration
	Now          func() time.Time
}

// NewLeaseReclaimJob returns rows whose lease expired to pending, covering
// publishers that died and never came back to reclaim their own batch.
func NewLeaseReclaimJob(params LeaseReclaimJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	if params.LeaseTimeout <= 0 {
		return nil, errors.New("lease timeout must be positive")
	}
	return &leaseReclaimJob{
		logg:         params.Logger,
		repo:         params.Repository,
		leaseTimeout: params.LeaseTimeout,
		now:          nowOrDefault(params.Now),
	}, nil
}

type leaseReclaimJob struct {
	logg         *logger.Logger
	repo         leaseReclaimRepo
	leaseTimeout time.Duration
	now          func() time.Time
}

func (j *leaseReclaimJob) Name() string { return "lease-reclaim" }

func (j *leaseReclaimJob) Run(ctx context.Context) (Result, error) {
	now := j.now().UTC()
	cutoff := now.Add(-j.leaseTimeout)
	reclaimed, err := j.repo.ReclaimExpiredLeases(ctx, cutoff, now)
	if err != nil {
		return Result{}, fmt.Errorf("lease reclaim: %w", err)
	}
	// a reclaim means some publisher died mid-batch
	if reclaimed > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"cutoff":    cutoff,
			"reclaimed": reclaimed,
		}), "expired outbox leases reclaimed")
	}
	return Result{Affected: reclaimed, Fields: map[string]any{"cutoff": cutoff}}, nil
}
