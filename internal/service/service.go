// Package service implements the daily log queries and mutations. Every
// function runs against an rls.Tx so authorization rules apply to each row it
// touches.
package service

import (
	"time"

	"github.com/chirino/daily-log/internal/pagination"
	"github.com/chirino/daily-log/internal/policy"
	registryattach "github.com/chirino/daily-log/internal/registry/attach"
	registrycache "github.com/chirino/daily-log/internal/registry/cache"
	"github.com/chirino/daily-log/internal/rls"
)

// Options configures a Service. Images, URLCache and Policy are optional.
type Options struct {
	Images    registryattach.ImageStore
	URLCache  registrycache.URLCache
	Policy    *policy.PostPolicy
	URLExpiry time.Duration

	DefaultPageSize int
	MaxPageSize     int
}

// Service is the data access layer used by the HTTP routes.
type Service struct {
	store     *rls.Store
	images    registryattach.ImageStore
	cache     registrycache.URLCache
	policy    *policy.PostPolicy
	urlExpiry time.Duration

	defaultPageSize int
	maxPageSize     int
}

// New creates a Service over an authorization-wrapped store.
func New(store *rls.Store, opts Options) *Service {
	s := &Service{
		store:           store,
		images:          opts.Images,
		cache:           opts.URLCache,
		policy:          opts.Policy,
		urlExpiry:       opts.URLExpiry,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
	}
	if s.urlExpiry <= 0 {
		s.urlExpiry = time.Hour
	}
	if s.cache != nil && !s.cache.Available() {
		s.cache = nil
	}
	return s
}

func (s *Service) page(req pagination.Request) pagination.Request {
	return req.Clamp(s.defaultPageSize, s.maxPageSize)
}
