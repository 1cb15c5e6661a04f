// Package local is an in-process URL cache backed by ristretto.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/daily-log/internal/config"
	registrycache "github.com/chirino/daily-log/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultMaxEntries = 10000

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.URLCache, error) {
			maxEntries := int64(defaultMaxEntries)
			if cfg := config.FromContext(ctx); cfg != nil && cfg.LocalCacheMaxEntries > 0 {
				maxEntries = cfg.LocalCacheMaxEntries
			}
			return New(maxEntries)
		},
	})
}

// New creates a cache holding at most maxEntries URLs.
func New(maxEntries int64) (*URLCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &URLCache{cache: c}, nil
}

// URLCache implements registrycache.URLCache in process memory.
type URLCache struct {
	cache *ristretto.Cache[string, string]
}

func (c *URLCache) Available() bool { return true }

func (c *URLCache) Get(_ context.Context, storageID string) (string, bool, error) {
	url, ok := c.cache.Get(storageID)
	return url, ok, nil
}

// Set stores url. Ristretto admits writes asynchronously, so Set waits for the
// write buffer to drain before returning.
func (c *URLCache) Set(_ context.Context, storageID, url string, ttl time.Duration) error {
	c.cache.SetWithTTL(storageID, url, 1, ttl)
	c.cache.Wait()
	return nil
}

func (c *URLCache) Remove(_ context.Context, storageID string) error {
	c.cache.Del(storageID)
	return nil
}

// Close stops the cache's background goroutines.
func (c *URLCache) Close() error {
	c.cache.Close()
	return nil
}

var _ registrycache.URLCache = (*URLCache)(nil)
