package idempotency_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-relay/pkg/db/dbtest"
	"github.com/angelmondragon/backoffice-relay/pkg/db/models"
	"github.com/angelmondragon/backoffice-relay/pkg/outbox/idempotency"
)

var tenantA = uuid.MustParse("11111111-1111-4111-8111-111111111111")

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestCheckAndMarkFirstThenDuplicate(t *testing.T) {
	client := dbtest.Open(t)
	guard := idempotency.NewGuard(client.DB(), fixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	var first, second bool
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		first, err = guard.CheckAndMark(ctx, tx, tenantA, "invoice.approved", "inv-1")
		return err
	}))
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		second, err = guard.CheckAndMark(ctx, tx, tenantA, "invoice.approved", "inv-1")
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	seen, err := guard.Seen(ctx, tenantA, "invoice.approved", "inv-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = guard.Seen(ctx, tenantA, "invoice.paid", "inv-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestCheckAndMarkRequiresKeyAndTx(t *testing.T) {
	client := dbtest.Open(t)
	guard := idempotency.NewGuard(client.DB(), nil)
	ctx := context.Background()

	_, err := guard.CheckAndMark(ctx, nil, tenantA, "x", "k")
	assert.ErrorIs(t, err, idempotency.ErrTransactionRequired)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := guard.CheckAndMark(ctx, tx, tenantA, "x", "  ")
		return err
	})
	assert.ErrorIs(t, err, idempotency.ErrKeyRequired)

	seen, err := guard.Seen(ctx, tenantA, "x", "")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMarkerRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	guard := idempotency.NewGuard(client.DB(), nil)
	ctx := context.Background()

	boom := errors.New("delivery bookkeeping failed")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := guard.CheckAndMark(ctx, tx, tenantA, "x", "k"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	seen, err := guard.Seen(ctx, tenantA, "x", "k")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestProcessRunsHandlerOnce(t *testing.T) {
	client := dbtest.Open(t)
	guard := idempotency.NewGuard(client.DB(), nil)
	ctx := context.Background()

	var calls int32
	handler := func(*gorm.DB) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	var wg sync.WaitGroup
	var wins int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processed, err := guard.Process(ctx, tenantA, "invoice.approved", "inv-9", handler)
			assert.NoError(t, err)
			if processed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, int32(1), wins)
}

func TestProcessHandlerErrorLeavesNoMarker(t *testing.T) {
	client := dbtest.Open(t)
	guard := idempotency.NewGuard(client.DB(), nil)
	ctx := context.Background()

	_, err := guard.Process(ctx, tenantA, "x", "k", func(*gorm.DB) error { return errors.New("handler failed") })
	require.Error(t, err)

	processed, err := guard.Process(ctx, tenantA, "x", "k", func(*gorm.DB) error { return nil })
	require.NoError(t, err)
	assert.True(t, processed, "retry after a failed handler must run again")
}

func TestDeleteBefore(t *testing.T) {
	client := dbtest.Open(t)
	ctx := context.Background()
	old := idempotency.NewGuard(client.DB(), fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	fresh := idempotency.NewGuard(client.DB(), fixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	_, err := old.Process(ctx, tenantA, "x", "old", func(*gorm.DB) error { return nil })
	require.NoError(t, err)
	_, err = fresh.Process(ctx, tenantA, "x", "fresh", func(*gorm.DB) error { return nil })
	require.NoError(t, err)

	var deleted int64
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		deleted, err = old.DeleteBefore(ctx, tx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
		return err
	}))
	assert.Equal(t, int64(1), deleted)

	var remaining []models.ProcessedEvent
	require.NoError(t, client.DB().Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", remaining[0].IdempotencyKey)
}
