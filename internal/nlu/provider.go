package nlu

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shopbot-service/internal/clientcache"
	"shopbot-service/internal/models"
	"shopbot-service/internal/util"
)

// StoreSource resolves the classifier settings of a store
type StoreSource interface {
	GetStore(ctx context.Context, id string) (*models.Store, error)
}

// Provider picks the classifier of each store: the store's own endpoint when
// it has one, the keyword grammar otherwise.
type Provider struct {
	stores   StoreSource
	clients  *clientcache.Cache[string, *HTTPClassifier]
	fallback Classifier
	timeout  time.Duration
	logger   *zap.Logger
}

func NewProvider(stores StoreSource, fallback Classifier, timeout time.Duration, size int) (*Provider, error) {
	clients, err := clientcache.New[string, *HTTPClassifier](size)
	if err != nil {
		return nil, err
	}
	return &Provider{
		stores:   stores,
		clients:  clients,
		fallback: fallback,
		timeout:  timeout,
		logger:   util.GetLogger(),
	}, nil
}

// For returns the classifier of a store
func (p *Provider) For(ctx context.Context, storeID string) Classifier {
	st, err := p.stores.GetStore(ctx, storeID)
	if err != nil {
		p.logger.Warn("Falling back to keyword classifier",
			zap.String("store_id", storeID), zap.Error(err))
		return p.fallback
	}
	if st.ClassifierEndpoint == "" {
		return p.fallback
	}

	c, _ := p.clients.Get(st.ID+"|"+st.ClassifierEndpoint, func() (*HTTPClassifier, error) {
		return NewHTTPClassifier(st.ClassifierEndpoint, st.ClassifierAPIKey, p.timeout), nil
	})
	return c
}

func (p *Provider) Close() error {
	return p.clients.Close()
}
