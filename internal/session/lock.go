package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopbot-service/internal/redisclient"
)

// Locker hands out short-lived exclusive locks by name.
// TryLock never blocks; ok is false when someone else holds the lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RedisLocker uses SET NX with an owner token
type RedisLocker struct {
	client *redisclient.Client
}

func NewRedisLocker(client *redisclient.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.AcquireLock(ctx, key, token, ttl)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	return l.client.ReleaseLock(ctx, key, token)
}

// MemoryLocker is the process-local Locker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLock
	now  func() time.Time
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLock), now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.held[key]; ok && l.now().Before(cur.expiresAt) {
		return "", false, nil
	}
	token := uuid.New().String()
	l.held[key] = memoryLock{token: token, expiresAt: l.now().Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}
