package synclock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLocker_ExclusiveUntilRelease(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "sync", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, errSecond := locker.Acquire(ctx, "sync", time.Minute); !errors.Is(errSecond, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", errSecond)
	}
	if errRelease := lease.Release(ctx); errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}
	if _, errAgain := locker.Acquire(ctx, "sync", time.Minute); errAgain != nil {
		t.Fatalf("acquire after release: %v", errAgain)
	}
}

func TestMemoryLocker_ExpiredHolder(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	if _, err := locker.Acquire(context.Background(), "sync", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := locker.Acquire(context.Background(), "sync", time.Second); err != nil {
		t.Fatalf("expected expired lock to be reclaimed: %v", err)
	}
}

func TestRedisLocker_ReleaseOnlyOwnToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	locker := NewRedisLocker(client, "portal")
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "sync", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, errSecond := locker.Acquire(ctx, "sync", time.Minute); !errors.Is(errSecond, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", errSecond)
	}
	if !mr.Exists("portal:lock:sync") {
		t.Fatalf("expected lock key in redis")
	}

	mr.FastForward(2 * time.Minute)
	second, err := locker.Acquire(ctx, "sync", time.Minute)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if errRelease := first.Release(ctx); errRelease != nil {
		t.Fatalf("stale release: %v", errRelease)
	}
	if !mr.Exists("portal:lock:sync") {
		t.Fatalf("stale lease must not remove the new holder's key")
	}
	if errRelease := second.Release(ctx); errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}
	if mr.Exists("portal:lock:sync") {
		t.Fatalf("expected lock key removed")
	}
}

func TestMemoryLocker_RefreshExtendsOwnLease(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "sync", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(800 * time.Millisecond)
	if errRefresh := lease.Refresh(ctx, time.Second); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	now = now.Add(800 * time.Millisecond)
	if _, errSecond := locker.Acquire(ctx, "sync", time.Second); !errors.Is(errSecond, ErrNotHeld) {
		t.Fatalf("expected refreshed lease to stay held, got %v", errSecond)
	}

	now = now.Add(2 * time.Second)
	if _, errTake := locker.Acquire(ctx, "sync", time.Second); errTake != nil {
		t.Fatalf("acquire after expiry: %v", errTake)
	}
	if errRefresh := lease.Refresh(ctx, time.Second); !errors.Is(errRefresh, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for taken-over lease, got %v", errRefresh)
	}
}

func TestRedisLocker_RefreshOnlyOwnToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	locker := NewRedisLocker(client, "portal")
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "sync", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(50 * time.Second)
	if errRefresh := first.Refresh(ctx, time.Minute); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if ttl := mr.TTL("portal:lock:sync"); ttl <= 50*time.Second {
		t.Fatalf("expected ttl extended to a minute, got %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, errTake := locker.Acquire(ctx, "sync", time.Minute); errTake != nil {
		t.Fatalf("acquire after expiry: %v", errTake)
	}
	if errRefresh := first.Refresh(ctx, time.Minute); !errors.Is(errRefresh, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", errRefresh)
	}
}
