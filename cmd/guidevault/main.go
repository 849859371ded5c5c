package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/config"
	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/scheduler"
	"github.com/voyagen/guidevault/internal/server"
	"github.com/voyagen/guidevault/internal/service"
	"github.com/voyagen/guidevault/internal/store"
	"github.com/voyagen/guidevault/migrations"
)

// schemaVersion is the newest migration this binary needs.
const schemaVersion = 1

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use environment")
	migrateOnly := flag.Bool("migrate-only", false, "Apply migrations and exit")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg, *migrateOnly); err != nil {
		logging.Fatal().Err(err).Msg("guidevault stopped")
	}
}

func run(cfg *config.Config, migrateOnly bool) error {
	if err := store.RunMigrations(cfg.DatabaseURL, migrations.FS); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := store.VerifySchema(cfg.DatabaseURL, schemaVersion); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if migrateOnly {
		logging.Info().Msg("migrations applied")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pg.Close()

	var appStore store.Store = pg
	var locker service.Locker = service.NewLocalLocker()
	if cfg.RedisURL != "" {
		rds, err := cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		appStore = store.NewCachedStore(pg, rds)
		locker = service.NewRedisLocker(rds)
		logging.Info().Msg("redis connected (caching and shared import lock enabled)")
	} else {
		logging.Info().Msg("redis disabled (REDIS_URL not set)")
	}

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	hour, minute, err := scheduler.ParseClock(cfg.ImportTime)
	if err != nil {
		return err
	}

	downloader := fetcher.NewDownloader(fetcher.Config{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Dir:       cfg.ScratchDir,
	})
	pipeline := service.NewPipeline(appStore, downloader, service.PipelineOptions{
		BatchSize: cfg.BatchSize,
		Locker:    locker,
	})
	engine := service.NewEngine(appStore, nil)
	sched := scheduler.New(scheduler.Config{
		Hour:           hour,
		Minute:         minute,
		Location:       loc,
		RetentionDays:  cfg.RetentionDays,
		Dedup:          cfg.DedupAfterImport,
		DedupTolerance: cfg.DedupTolerance(),
		DedupThreshold: cfg.DedupTitleThreshold,
	}, pipeline, engine)

	srv := server.New(server.Deps{
		Providers:   service.NewProviders(appStore, downloader),
		Query:       service.NewQuery(appStore),
		Importer:    pipeline,
		Scheduler:   sched,
		Maintenance: engine,
		Health:      pg,
	}, server.Config{
		Port:           cfg.ServerPort,
		CORSEnabled:    cfg.CORSEnabled,
		CORSOrigins:    cfg.CORSOrigins,
		AdminRateLimit: cfg.AdminRateLimit,
		RetentionDays:  cfg.RetentionDays,
		DedupThreshold: cfg.DedupTitleThreshold,
		DedupTolerance: cfg.DedupTolerance(),
	})

	log := logging.Component("supervisor")
	root := suture.New("guidevault", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Fields(e.Map()).Msg(e.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          15 * time.Second,
	})
	root.Add(sched)
	root.Add(srv)

	log.Info().Str("import_time", cfg.ImportTime).Str("timezone", loc.String()).
		Time("next_run", sched.NextRunTime()).Msg("starting services")
	if err := root.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
