package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shopbot-service/internal/clientcache"
	"shopbot-service/internal/models"
	"shopbot-service/internal/util"
)

// StoreSource resolves the channel token of a store
type StoreSource interface {
	GetStore(ctx context.Context, id string) (*models.Store, error)
}

// Pool sends messages through the channel of each store. Stores without a
// token of their own use the default token.
type Pool struct {
	stores       StoreSource
	clients      *clientcache.Cache[string, *LineClient]
	baseURL      string
	defaultToken string
	logger       *zap.Logger
}

func NewPool(stores StoreSource, baseURL, defaultToken string, size int) (*Pool, error) {
	clients, err := clientcache.New[string, *LineClient](size)
	if err != nil {
		return nil, err
	}
	return &Pool{
		stores:       stores,
		clients:      clients,
		baseURL:      baseURL,
		defaultToken: defaultToken,
		logger:       util.GetLogger(),
	}, nil
}

// Notify pushes text to a customer of a store. Failures are logged and
// counted; they never reach the caller.
func (p *Pool) Notify(ctx context.Context, storeID, userID, text string) {
	client, err := p.client(ctx, storeID)
	if err == nil {
		err = client.Push(ctx, userID, text)
	}
	if err != nil {
		util.NotificationsFailedTotal.Inc()
		p.logger.Warn("Failed to notify customer",
			zap.String("store_id", storeID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// DisplayName returns the profile name of a customer, or "" when unknown
func (p *Pool) DisplayName(ctx context.Context, storeID, userID string) string {
	client, err := p.client(ctx, storeID)
	if err != nil {
		return ""
	}
	profile, err := client.GetProfile(ctx, userID)
	if err != nil {
		p.logger.Debug("Profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return profile.DisplayName
}

func (p *Pool) Close() error {
	return p.clients.Close()
}

func (p *Pool) client(ctx context.Context, storeID string) (*LineClient, error) {
	return p.clients.Get(storeID, func() (*LineClient, error) {
		token := p.defaultToken
		st, err := p.stores.GetStore(ctx, storeID)
		if err != nil {
			return nil, fmt.Errorf("failed to get store: %w", err)
		}
		if st.ChannelToken != "" {
			token = st.ChannelToken
		}
		if token == "" {
			return nil, fmt.Errorf("store %s has no channel token", storeID)
		}
		return NewLineClient(p.baseURL, token), nil
	})
}
