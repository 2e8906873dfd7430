package service

import (
	"context"
	"fmt"
	"time"

	"shopbot-service/internal/models"
	"shopbot-service/internal/session"
	"shopbot-service/internal/util"
)

// sessionMutator runs read-modify-write cycles on conversation state with
// compare-and-set and bounded retry. A mutation function that returns an
// error leaves the stored state untouched.
type sessionMutator struct {
	store session.Store
	ttl   time.Duration
	retry util.RetryPolicy
	now   func() time.Time
}

func newSessionMutator(store session.Store, ttl time.Duration, retry util.RetryPolicy) *sessionMutator {
	return &sessionMutator{store: store, ttl: ttl, retry: retry, now: time.Now}
}

func (m *sessionMutator) load(ctx context.Context, key session.Key) (*models.ConversationState, error) {
	state, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if state == nil {
		state = models.NewConversationState(key.UserID, key.StoreID)
	}
	return state, nil
}

func (m *sessionMutator) mutate(ctx context.Context, key session.Key, fn func(*models.ConversationState) error) (*models.ConversationState, error) {
	var result *models.ConversationState
	err := util.RetryOnConflict(ctx, m.retry, "session", func() error {
		state, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		state.Touch(m.now(), m.ttl)
		if err := m.store.Save(ctx, key, state, m.ttl); err != nil {
			return err
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
