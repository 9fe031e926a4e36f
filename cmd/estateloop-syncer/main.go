package main

import (
	"context"
	"flag"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/estateloop/estateloop/pkg/config"
	"github.com/estateloop/estateloop/pkg/identity"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/storage"
	"github.com/estateloop/estateloop/pkg/storage/postgres"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

func main() {
	runOnce := flag.Bool("run-once", false, "Run a single reconciliation pass and exit")
	direction := flag.String("direction", string(syncpkg.DirectionDBWins),
		"Reconciliation direction: db_to_identity or identity_to_db")
	driftOnly := flag.Bool("drift-only", false, "Report drift without writing to either system")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	dir := syncpkg.Direction(*direction)
	if dir != syncpkg.DirectionDBWins && dir != syncpkg.DirectionIdentityWins {
		log.Fatalf("Unknown direction %q", *direction)
	}

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
	defer db.Close()

	provider := identity.NewHTTPClient(ctx, identity.Config{
		BaseURL:      cfg.Identity.BaseURL,
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Timeout:      cfg.Identity.Timeout,
	})

	// The synchronizer logs through the shared slog wrapper; the worker
	// itself reports through logrus.
	syncLogger := observability.NewLogger(observability.ParseLevel(cfg.LogLevel), os.Stdout)

	syncOpts := []syncpkg.Option{}
	if cfg.Redis.URL != "" {
		if cache, err := storage.NewListingCache(cfg.Redis.URL, cfg.Redis.ListingTTL); err != nil {
			log.WithError(err).Warn("listing cache unavailable, continuing without it")
		} else {
			defer cache.Close()
			syncOpts = append(syncOpts, syncpkg.WithListingCache(cache))
		}
	}
	synchronizer := syncpkg.NewSynchronizer(
		postgres.NewUserStore(db), postgres.NewListingStore(db), provider, syncLogger, syncOpts...)

	reconciler := &Reconciler{
		provider:     provider,
		synchronizer: synchronizer,
		direction:    dir,
		driftOnly:    *driftOnly,
		batchSize:    cfg.Sync.BatchSize,
		workers:      cfg.Sync.Workers,
		log:          log,
	}

	if *runOnce {
		summary := reconciler.Run(ctx)
		if summary.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sync.Schedule, func() {
		reconciler.Run(ctx)
	}); err != nil {
		log.Fatalf("Invalid sync schedule %q: %v", cfg.Sync.Schedule, err)
	}

	log.WithField("schedule", cfg.Sync.Schedule).Info("Starting batch reconciler")
	scheduler.Run()
}
