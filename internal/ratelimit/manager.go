package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Manager enforces the configured limit, preferring Redis and falling back to
// process memory while Redis is failing.
type Manager struct {
	settings Settings
	now      func() time.Time
	memory   Limiter
	redis    Limiter

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. A nil client keeps all counting in memory.
func NewManager(settings Settings, client *redis.Client) *Manager {
	m := &Manager{
		settings: settings,
		now:      time.Now,
		memory:   NewMemoryLimiter(),
	}
	if settings.RedisEnabled && client != nil {
		m.redis = NewRedisLimiter(client, settings.RedisPrefix)
	}
	return m
}

// Allow checks key against the configured limit.
func (m *Manager) Allow(ctx context.Context, key string) (Result, error) {
	if m == nil || m.settings.Limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.now()
	if m.redis != nil && !m.breakerOpen(now) {
		result, err := m.redis.Allow(ctx, key, m.settings.Limit, now)
		if err == nil {
			return result, nil
		}
		m.tripBreaker(err, now)
	}
	return m.memory.Allow(ctx, key, m.settings.Limit, now)
}

func (m *Manager) breakerOpen(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, counting in memory")
}
