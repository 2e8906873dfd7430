// Package clientcache keeps a bounded set of per-store clients. Clients that
// fall out of the cache are closed.
package clientcache

import (
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"shopbot-service/internal/util"
)

type Cache[K comparable, V io.Closer] struct {
	mu     sync.Mutex
	lru    *lru.Cache[K, V]
	logger *zap.Logger
}

func New[K comparable, V io.Closer](size int) (*Cache[K, V], error) {
	c := &Cache[K, V]{logger: util.GetLogger()}
	inner, err := lru.NewWithEvict[K, V](size, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create client cache: %w", err)
	}
	c.lru = inner
	return c, nil
}

// Get returns the cached client for key, building and caching it on a miss.
// build runs at most once per miss even under concurrent callers.
func (c *Cache[K, V]) Get(key K, build func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Remove drops and closes the client for key, if any
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Close closes every cached client
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}

func (c *Cache[K, V]) evicted(key K, v V) {
	if err := v.Close(); err != nil {
		c.logger.Warn("Failed to close evicted client", zap.Any("key", key), zap.Error(err))
	}
}
