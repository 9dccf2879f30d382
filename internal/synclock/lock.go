package synclock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotHeld is returned when a lock could not be acquired because another holder owns it.
	ErrNotHeld = errors.New("synclock: lock held elsewhere")
	// ErrLeaseLost is returned by Refresh when the lease expired or was taken over.
	ErrLeaseLost = errors.New("synclock: lease lost")
)

// Lease is an acquired lock. Release is safe to call more than once.
// Refresh extends the lease to ttl from now while it is still owned.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring leases by name.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// MemoryLocker serializes holders within one process.
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[string]memoryHolder
	now     func() time.Time
}

type memoryHolder struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLocker constructs an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holders: make(map[string]memoryHolder), now: time.Now}
}

// Acquire takes the named lock unless a live holder exists.
func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.holders[name]; ok && now.Before(holder.expiresAt) {
		return nil, ErrNotHeld
	}
	token := uuid.NewString()
	l.holders[name] = memoryHolder{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: l, name: name, token: token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	name   string
	token  string
}

func (m *memoryLease) Refresh(_ context.Context, ttl time.Duration) error {
	now := m.locker.now()
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	holder, ok := m.locker.holders[m.name]
	if !ok || holder.token != m.token || !now.Before(holder.expiresAt) {
		return ErrLeaseLost
	}
	holder.expiresAt = now.Add(ttl)
	m.locker.holders[m.name] = holder
	return nil
}

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if holder, ok := m.locker.holders[m.name]; ok && holder.token == m.token {
		delete(m.locker.holders, m.name)
	}
	return nil
}

// releaseScript deletes the key only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's TTL only while it still carries the caller's token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker coordinates holders across processes sharing one Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire sets the lock key with NX and a TTL so a crashed holder cannot block forever.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("synclock: nil redis client")
	}
	key := l.key(name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotHeld
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

func (l *RedisLocker) key(name string) string {
	if l.prefix == "" {
		return "lock:" + name
	}
	return l.prefix + ":lock:" + name
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (r *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	extended, err := refreshScript.Run(ctx, r.client, []string{r.key}, r.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if extended == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err()
}
