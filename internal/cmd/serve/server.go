package serve

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/daily-log/internal/config"
	"github.com/chirino/daily-log/internal/plugin/route/posts"
	routesystem "github.com/chirino/daily-log/internal/plugin/route/system"
	"github.com/chirino/daily-log/internal/plugin/route/users"
	storemetrics "github.com/chirino/daily-log/internal/plugin/store/metrics"
	"github.com/chirino/daily-log/internal/policy"
	registryattach "github.com/chirino/daily-log/internal/registry/attach"
	registrycache "github.com/chirino/daily-log/internal/registry/cache"
	registrymigrate "github.com/chirino/daily-log/internal/registry/migrate"
	registryroute "github.com/chirino/daily-log/internal/registry/route"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/chirino/daily-log/internal/security"
	"github.com/chirino/daily-log/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config     *config.Config
	Store      registrystore.Store
	Cache      registrycache.URLCache
	Service    *service.Service
	Router     *gin.Engine
	Running    *RunningServer
	Management *RunningServer
}

// Shutdown drains the listeners and closes the store and the URL cache.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.Management != nil {
		errs = append(errs, s.Management.Close(ctx))
	}
	if s.Running != nil {
		errs = append(errs, s.Running.Close(ctx))
	}
	errs = append(errs, s.closeBackends())
	routesystem.Reset()
	return errors.Join(errs...)
}

func (s *Server) closeBackends() error {
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	return errors.Join(errs...)
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting daily log service",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"images", cfg.ImageStoreType,
		"mode", cfg.Mode,
	)
	ctx = config.WithContext(ctx, cfg)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// The URL cache is optional; image URLs are signed on every read without it.
	var urlCache registrycache.URLCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if urlCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		urlCache = nil
	}

	srv := &Server{Config: cfg, Cache: urlCache}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		_ = srv.closeBackends()
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		_ = srv.closeBackends()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)
	srv.Store = store

	postPolicy, err := policy.NewPostPolicy(ctx, cfg.PostPolicyDir)
	if err != nil {
		_ = srv.closeBackends()
		return nil, fmt.Errorf("failed to load post policy: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			_ = srv.closeBackends()
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Images are optional: posts keep working without a store, they just
	// resolve no URLs.
	var images registryattach.ImageStore
	if cfg.ImageStoreType != "" && cfg.ImageStoreType != "none" {
		imageLoader, err := registryattach.Select(cfg.ImageStoreType)
		if err != nil {
			log.Warn("Image store not available", "err", err)
		} else if images, err = imageLoader(ctx); err != nil {
			log.Warn("Failed to initialize image store", "images", cfg.ImageStoreType, "err", err)
			images = nil
		}
	}
	if mounter, ok := images.(registryattach.RouteMounter); ok {
		mounter.MountRoutes(router)
	}

	svc := service.New(rls.NewStore(store, rls.DefaultRules()), service.Options{
		Images:          images,
		URLCache:        urlCache,
		Policy:          postPolicy,
		URLExpiry:       cfg.ImageDownloadURLExpiresIn,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	auth := security.AuthMiddleware(security.NewTokenResolver(cfg))
	users.MountRoutes(router, svc, auth)
	posts.MountRoutes(router, svc, auth)

	// Management routes go on a dedicated listener when one is configured,
	// otherwise on the main router.
	var management *RunningServer
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				_ = srv.closeBackends()
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		management, err = startHTTPServer("management", mgmtCfg, mgmtRouter)
		if err != nil {
			_ = srv.closeBackends()
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "port", management.Port)
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				_ = srv.closeBackends()
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	running, err := startHTTPServer("http", cfg.Listener, router)
	if err != nil {
		if management != nil {
			_ = management.Close(ctx)
		}
		_ = srv.closeBackends()
		return nil, err
	}
	log.Info("Server listening", "port", running.Port, "tls", running.TLS)

	routesystem.MarkReady(func(ctx context.Context) error {
		return store.Read(ctx, func(registrystore.Tx) error { return nil })
	})
	srv.Service = svc
	srv.Router = router
	srv.Running = running
	srv.Management = management
	return srv, nil
}
