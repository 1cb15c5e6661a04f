package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/daily-log/internal/config"
	registrycache "github.com/chirino/daily-log/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.URLCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: DAILYLOG_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a URLCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.URLCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts)
}

// LoadFromOptions creates a URLCache from go-redis Options.
func LoadFromOptions(ctx context.Context, opts *goredis.Options) (registrycache.URLCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &redisURLCache{client: client, ttl: defaultTTL}, nil
}

type redisURLCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func urlKey(storageID string) string {
	return "image-url:" + storageID
}

func (c *redisURLCache) Available() bool {
	return true
}

func (c *redisURLCache) Get(ctx context.Context, storageID string) (string, bool, error) {
	url, err := c.client.Get(ctx, urlKey(storageID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

func (c *redisURLCache) Set(ctx context.Context, storageID, url string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, urlKey(storageID), url, ttl).Err()
}

func (c *redisURLCache) Remove(ctx context.Context, storageID string) error {
	return c.client.Del(ctx, urlKey(storageID)).Err()
}

func (c *redisURLCache) Close() error {
	return c.client.Close()
}

var _ registrycache.URLCache = (*redisURLCache)(nil)
