package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leveranciersportal/portalsync/internal/config"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1700000000, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "k", 2, now)
		if err != nil || !res.Allowed {
			t.Fatalf("hit %d: expected allowed, got %+v err=%v", i, res, err)
		}
	}
	res, _ := limiter.Allow(ctx, "k", 2, now)
	if res.Allowed {
		t.Fatalf("expected third hit to be rejected")
	}
	res, _ = limiter.Allow(ctx, "k", 2, now.Add(time.Second))
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("expected new window, got %+v", res)
	}
}

func TestManager_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	settings := SettingsFromConfig(config.PortalConfig{
		RateLimit: config.RateLimitConfig{Limit: 1, RedisEnabled: true},
		Redis:     config.RedisConfig{Addr: mr.Addr(), Prefix: "portal"},
	})
	manager := NewManager(settings, client)
	now := time.Unix(1700000000, 0)
	manager.now = func() time.Time { return now }

	key := KeyForSupplier("a@x.com", "status")
	first, err := manager.Allow(context.Background(), key)
	if err != nil || !first.Allowed {
		t.Fatalf("expected first hit allowed, got %+v err=%v", first, err)
	}
	second, err := manager.Allow(context.Background(), key)
	if err != nil || second.Allowed {
		t.Fatalf("expected second hit rejected, got %+v err=%v", second, err)
	}
	if !mr.Exists("portal:rl:s:a@x.com:status:1700000000") {
		t.Fatalf("expected window key in redis, keys=%v", mr.Keys())
	}
}

func TestManager_FallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	mr.Close()

	manager := NewManager(Settings{Limit: 1, RedisEnabled: true, RedisPrefix: "p"}, client)
	now := time.Unix(1700000000, 0)
	manager.now = func() time.Time { return now }
	key := KeyForSupplier("a@x.com", "")
	first, err := manager.Allow(context.Background(), key)
	if err != nil || !first.Allowed {
		t.Fatalf("expected memory fallback to allow, got %+v err=%v", first, err)
	}
	second, _ := manager.Allow(context.Background(), key)
	if second.Allowed {
		t.Fatalf("expected memory fallback to enforce the limit")
	}
}

func TestManager_DisabledLimit(t *testing.T) {
	manager := NewManager(Settings{}, nil)
	for i := 0; i < 10; i++ {
		res, err := manager.Allow(context.Background(), "k")
		if err != nil || !res.Allowed {
			t.Fatalf("expected unlimited, got %+v err=%v", res, err)
		}
	}
}
