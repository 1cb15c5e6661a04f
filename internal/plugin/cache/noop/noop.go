package noop

import (
	"context"
	"time"

	"github.com/chirino/daily-log/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.URLCache, error) {
			return &noopURLCache{}, nil
		},
	})
}

type noopURLCache struct{}

func (n *noopURLCache) Available() bool { return false }
func (n *noopURLCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}
func (n *noopURLCache) Set(_ context.Context, _, _ string, _ time.Duration) error { return nil }
func (n *noopURLCache) Remove(_ context.Context, _ string) error                  { return nil }
func (n *noopURLCache) Close() error                                              { return nil }

var _ cache.URLCache = (*noopURLCache)(nil)
