package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/backoffice-relay/pkg/logger"
	"github.com/angelmondragon/backoffice-relay/pkg/metrics"
)

type testJob struct {
	name     string
	err      error
	affected int64
	runs     int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) (Result, error) {
	t.runs++
	return Result{Affected: t.affected}, t.err
}

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry
}

// lossyLock loses ownership after the first job.
type lossyLock struct {
	*LocalLock
}

func (l lossyLock) Refresh(context.Context) error { return ErrLockLost }

func TestServiceRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
	reg := prometheus.NewRegistry()
	success := &testJob{name: "success", affected: 4}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: mustRegistry(t, success, failure),
		Lock:     NewLocalLock(),
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job to run once, got success=%d fail=%d", success.runs, failure.runs)
	}
	if got := counterTotal(t, reg, "relay_cron_job_runs_total"); got != 2 {
		t.Fatalf("expected two runs, got %v", got)
	}
	if got := counterTotal(t, reg, "relay_cron_job_rows_total"); got != 4 {
		t.Fatalf("expected four rows, got %v", got)
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
	lock := NewLocalLock()
	job := &testJob{name: "job"}
	service, err := NewService(ServiceParams{Logger: logg, Registry: mustRegistry(t, job), Lock: lock})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	held, _ := lock.Acquire(context.Background())
	if !held {
		t.Fatal("expected to take the lock")
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran while lock was held elsewhere")
	}

	_ = lock.Release(context.Background())
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected job to run after release, got %d", job.runs)
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
	job := &testJob{name: "job"}
	service, err := NewService(ServiceParams{Logger: logg, Registry: mustRegistry(t, job), Lock: NewLocalLock()})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestServiceStopsCycleWhenLockIsLost(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
	first := &testJob{name: "first"}
	second := &testJob{name: "second"}
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: mustRegistry(t, first, second),
		Lock:     lossyLock{NewLocalLock()},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
	if first.runs != 1 || second.runs != 0 {
		t.Fatalf("expected only the first job to run, got first=%d second=%d", first.runs, second.runs)
	}
}

func TestServiceCountsSkippedCycles(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
	reg := prometheus.NewRegistry()
	lock := NewLocalLock()
	service, err := NewService(ServiceParams{Logger: logg, Lock: lock, Metrics: metrics.NewCronJobMetrics(reg)})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	_, _ = lock.Acquire(context.Background())
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := counterTotal(t, reg, "relay_cron_cycles_skipped_total"); got != 1 {
		t.Fatalf("expected one skipped cycle, got %v", got)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
	if _, err := NewService(ServiceParams{Logger: logg}); err == nil {
		t.Fatal("expected error without lock")
	}
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
