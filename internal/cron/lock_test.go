package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/backoffice-relay/pkg/redis"
)

func newRedisLocks(t *testing.T) (*RedisLock, *RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	key := client.LockKey("cron")
	a, err := NewRedisLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	b, err := NewRedisLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("lock b: %v", err)
	}
	return a, b, mr
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	a, b, _ := newRedisLocks(t)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("a acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("b should not acquire: ok=%v err=%v", ok, err)
	}

	// releasing a lock you do not hold is a no-op
	if err := b.Release(ctx); err != nil {
		t.Fatalf("b release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("b acquired after its own no-op release")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("a release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("b should acquire after a released")
	}
}

func TestRedisLockExpiresAndStaleOwnerCannotRelease(t *testing.T) {
	ctx := context.Background()
	a, b, mr := newRedisLocks(t)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("a acquire failed")
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("b should acquire after ttl lapse")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists("relay:lock:cron") {
		t.Fatal("stale owner deleted the new holder's lock")
	}
}

func TestRedisLockRefreshExtendsTTLUntilLost(t *testing.T) {
	ctx := context.Background()
	a, b, mr := newRedisLocks(t)

	if err := a.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("refresh without holding: %v", err)
	}
	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("a acquire failed")
	}
	mr.FastForward(50 * time.Second)
	if err := a.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := mr.TTL("relay:lock:cron"); got != time.Minute {
		t.Fatalf("expected ttl reset to 1m, got %v", got)
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("b should acquire after ttl lapse")
	}
	if err := a.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected lost lock, got %v", err)
	}
}

func TestLocalLockRefresh(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	if err := lock.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected lost lock, got %v", err)
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if err := lock.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestNewRedisLockValidation(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}
}
