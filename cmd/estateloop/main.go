package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/estateloop/estateloop/pkg/api"
	"github.com/estateloop/estateloop/pkg/audit"
	"github.com/estateloop/estateloop/pkg/config"
	"github.com/estateloop/estateloop/pkg/identity"
	"github.com/estateloop/estateloop/pkg/middleware"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/permissions"
	"github.com/estateloop/estateloop/pkg/rolechange"
	"github.com/estateloop/estateloop/pkg/storage"
	"github.com/estateloop/estateloop/pkg/storage/postgres"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(observability.ParseLevel(cfg.LogLevel), os.Stdout)
	ctx := context.Background()

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	users := postgres.NewUserStore(db)
	listings := postgres.NewListingStore(db)
	bundles := postgres.NewBundleStore(db)

	// The listing cache and rate limiter are optional: no redis URL means
	// the service runs without them.
	var listingCache *storage.ListingCache
	var rateLimiter *middleware.RateLimiter
	if cfg.Redis.URL != "" {
		listingCache, err = storage.NewListingCache(cfg.Redis.URL, cfg.Redis.ListingTTL)
		if err != nil {
			logger.WithError(err).Warn("listing cache unavailable, continuing without it")
			listingCache = nil
		}
		if opts, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rateLimiter = middleware.NewRateLimiter(redis.NewClient(opts), &middleware.RateLimitConfig{
				RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
				WindowDuration:    cfg.RateLimit.WindowDuration,
			}, "rolechange", logger)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	provider := identity.NewHTTPClient(ctx, identity.Config{
		BaseURL:      cfg.Identity.BaseURL,
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Timeout:      cfg.Identity.Timeout,
	}).WithMetrics(metrics)

	verifier, err := middleware.NewOIDCVerifier(ctx, cfg.Identity.OIDCIssuer, cfg.Identity.OIDCClientID)
	if err != nil {
		log.Fatalf("Failed to set up OIDC verifier: %v", err)
	}

	permCache, err := permissions.NewCache(cfg.Permissions.CacheSize, cfg.Permissions.CacheTTL)
	if err != nil {
		log.Fatalf("Failed to create permission cache: %v", err)
	}
	permCache = permCache.WithMetrics(metrics)
	engine := permissions.NewEngine(users, bundles, permCache, logger)

	syncOpts := []syncpkg.Option{syncpkg.WithMetrics(metrics)}
	if listingCache != nil {
		syncOpts = append(syncOpts, syncpkg.WithListingCache(listingCache))
	}
	synchronizer := syncpkg.NewSynchronizer(users, listings, provider, logger, syncOpts...)

	auditor, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to set up audit logger: %v", err)
	}

	service := rolechange.NewService(users, synchronizer, auditor, logger,
		rolechange.WithMetrics(metrics),
		rolechange.WithPermissionCache(permCache))

	server := api.NewServer(api.Deps{
		Authenticator: middleware.NewAuthenticator(verifier, provider, logger),
		RateLimiter:   rateLimiter,
		Engine:        engine,
		Bundles:       bundles,
		RoleService:   service,
		Synchronizer:  synchronizer,
		Logger:        logger,
		Metrics:       metrics,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var cachePinger observability.Pinger
	if listingCache != nil {
		cachePinger = listingCache
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: api.HealthRouter(observability.NewHealthChecker(db, cachePinger), registry),
	}

	sweepDone := make(chan struct{})
	go sweepPermissionCache(permCache, cfg.Permissions.SweepInterval, logger, sweepDone)
	go sampleDBStats(db, metrics, logger, sweepDone)

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		close(sweepDone)
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if listingCache != nil {
			return listingCache.Close()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

// sampleDBStats exports connection pool gauges on a timer.
func sampleDBStats(db *sql.DB, metrics *observability.Metrics, logger *observability.Logger, done <-chan struct{}) {
	defer observability.RecoverPanic(logger, "db stats sampler")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}

// sweepPermissionCache evicts expired permission cache entries on a timer
// so the LRU does not fill with dead entries between lookups.
func sweepPermissionCache(cache *permissions.Cache, interval time.Duration, logger *observability.Logger, done <-chan struct{}) {
	defer observability.RecoverPanic(logger, "permission cache sweep")
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if removed := cache.SweepExpired(); removed > 0 {
				logger.WithField("removed", removed).Debug("swept expired permission cache entries")
			}
		}
	}
}
