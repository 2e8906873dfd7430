// Package session stores per (user, store) conversation state with a TTL
// and compare-and-set writes.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"shopbot-service/internal/models"
	"shopbot-service/internal/redisclient"
)

// Key identifies a conversation
type Key struct {
	UserID  string
	StoreID string
}

func (k Key) String() string {
	return fmt.Sprintf("session:%s:%s", k.StoreID, k.UserID)
}

// Store persists conversation state.
//
// Get returns nil, nil when there is no live session. Save writes only when
// the stored version equals state.Version and returns
// models.ErrConcurrencyConflict otherwise; on success state.Version is
// advanced to the stored version.
type Store interface {
	Get(ctx context.Context, key Key) (*models.ConversationState, error)
	Save(ctx context.Context, key Key, state *models.ConversationState, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
}

// RedisStore keeps sessions in Redis hashes guarded by a Lua compare-and-set
type RedisStore struct {
	client *redisclient.Client
}

func NewRedisStore(client *redisclient.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*models.ConversationState, error) {
	data, version, err := s.client.GetSession(ctx, key.String())
	if err != nil {
		return nil, err
	}
	if version == 0 || len(data) == 0 {
		return nil, nil
	}

	var state models.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", key, err)
	}
	state.Version = version
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, key Key, state *models.ConversationState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", key, err)
	}

	ok, err := s.client.CompareAndSetSession(ctx, key.String(), state.Version, data, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s: %w", key, models.ErrConcurrencyConflict)
	}
	state.Version++
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	return s.client.DeleteSession(ctx, key.String())
}

// MemoryStore is a process-local Store with the same semantics as RedisStore
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	state     *models.ConversationState
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, nil
	}
	return e.state.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, key Key, state *models.ConversationState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e, ok := s.live(key); ok {
		current = e.state.Version
	}
	if current != state.Version {
		return fmt.Errorf("session %s: %w", key, models.ErrConcurrencyConflict)
	}

	state.Version++
	s.entries[key] = memoryEntry{state: state.Clone(), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// live must be called with mu held
func (s *MemoryStore) live(key Key) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
