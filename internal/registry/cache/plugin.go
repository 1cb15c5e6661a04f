package cache

import (
	"context"
	"fmt"
	"time"
)

type urlCacheKey struct{}

// WithURLCacheContext returns a new context carrying the given URLCache.
func WithURLCacheContext(ctx context.Context, c URLCache) context.Context {
	return context.WithValue(ctx, urlCacheKey{}, c)
}

// URLCacheFromContext retrieves the URLCache from the context.
// Returns nil if none was set.
func URLCacheFromContext(ctx context.Context) URLCache {
	c, _ := ctx.Value(urlCacheKey{}).(URLCache)
	return c
}

// URLCache caches image URLs resolved from storage ids. Entries must expire
// before the URL they hold does.
type URLCache interface {
	Available() bool
	Get(ctx context.Context, storageID string) (string, bool, error)
	Set(ctx context.Context, storageID, url string, ttl time.Duration) error
	Remove(ctx context.Context, storageID string) error
	// Close releases connections and background workers.
	Close() error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (URLCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
