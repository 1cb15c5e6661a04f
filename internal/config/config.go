package config

import (
	"context"
	"os"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the daily log service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode a bearer token that is not a JWT is accepted as the
	// identity token itself and X-User-Name supplies the display name.
	Mode string

	// Database
	DBURL string

	// Datastore backend type
	DatastoreType string // "postgres" or "sqlite"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend type for resolved image URLs.
	CacheType string // "redis", "local", or "none"

	// Redis
	RedisURL string

	// Max number of resolved image URLs held by the in-process cache.
	LocalCacheMaxEntries int64

	// Image store type
	ImageStoreType string // "s3" or "local"

	// Image behavior.
	ImageMaxSize              int64
	ImageUploadURLExpiresIn   time.Duration
	ImageDownloadURLExpiresIn time.Duration

	// Local image store.
	LocalImageDir string
	// LocalImageSigningKey signs upload/download URLs served by the local store.
	LocalImageSigningKey string
	// PublicBaseURL is the externally visible base URL used in local store links.
	PublicBaseURL string

	// S3
	S3Bucket           string
	S3Prefix           string
	S3ExternalEndpoint string
	S3UsePathStyle     bool

	// Post validation policy directory; empty uses the built-in policy.
	PostPolicyDir string

	// Pagination
	DefaultPageSize int
	MaxPageSize     int

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener ListenerConfig
	// ManagementListener serves /health, /ready and /metrics on a dedicated
	// port when ManagementListenerEnabled is set.
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	// CORS for browser clients. CORSOrigins is a comma-separated allow list; empty allows any origin.
	CORSEnabled bool
	CORSOrigins string
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool

	// Body size limit (bytes)
	MaxBodySize int64

	// Temporary file directory. Empty uses platform default temp directory.
	TempDir string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                      ModeProd,
		DatastoreType:             "postgres",
		DatastoreMigrateAtStart:   true,
		DBMaxOpenConns:            25,
		DBMaxIdleConns:            5,
		CacheType:                 "local",
		LocalCacheMaxEntries:      10000,
		ImageStoreType:            "local",
		ImageMaxSize:              10 * 1024 * 1024, // 10 MB
		ImageUploadURLExpiresIn:   15 * time.Minute,
		ImageDownloadURLExpiresIn: time.Hour,
		LocalImageDir:             "data/images",
		PublicBaseURL:             "http://localhost:8080",
		DefaultPageSize:           20,
		MaxPageSize:               200,
		MetricsLabels:             "service=daily-log",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1024 * 1024,
		DrainTimeout: 30,
	}
}

// ResolvedTempDir returns the configured temp directory or the platform default.
func (c *Config) ResolvedTempDir() string {
	if c == nil {
		return os.TempDir()
	}
	if dir := strings.TrimSpace(c.TempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}
