// Package main is the entry point of the StudyQuest background worker.
//
// The worker runs the scheduled integrity audit against PostgreSQL outside
// the API process. When Redis is available, violations are relayed on the
// shared event channel so every server instance evicts the flagged users
// from its cache.
//
// Usage:
//
//	worker            run the schedule until SIGINT/SIGTERM
//	worker -once      run every job once and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/messaging"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/postgres"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/redis"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/scheduler"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/scheduler/jobs"
	"github.com/studyquest/studyquest-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx, *once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	log := setupLogger(cfg)
	log.Info("starting StudyQuest worker",
		"env", cfg.App.Environment,
		"schedule", cfg.Scheduler.AuditSchedule(),
		"once", once,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	var conn *postgres.Connection
	err = retry.Database().Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		conn, err = postgres.NewConnection(ctx, cfg.Database)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		conn.Close()
	}()

	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT RELAY (optional)
	// ─────────────────────────────────────────────────────────────────────────
	publisher, closeBus := setupPublisher(ctx, cfg, log)
	defer closeBus()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.AuditSchedule())
	if err != nil {
		return fmt.Errorf("invalid integrity audit schedule: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:            log,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	})
	audit := jobs.NewIntegrityAuditJob(
		postgres.NewProgressionRepository(conn),
		publisher,
		cfg.Progression.IntegritySalt,
		cfg.Scheduler.IntegrityAuditBatchSize,
		log,
	)
	if err := sched.Register(audit, schedule); err != nil {
		return fmt.Errorf("failed to register %s: %w", audit.Name(), err)
	}

	if once {
		result, err := sched.RunNow(ctx, audit.Name())
		if err != nil {
			return err
		}
		if stats, ok := audit.LastRunStats(); ok {
			log.Info("integrity audit finished",
				"checked", stats.Checked,
				"violations", len(stats.Violations),
				"load_errors", stats.LoadErrors,
				"duration", result.Duration,
			)
		}
		return result.Error
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("StudyQuest worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal, stopping scheduler...")

	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Warn("scheduler stop failed", "error", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupPublisher returns the Redis relay, or nil when Redis is disabled or
// unreachable. Violations are still logged by the audit job.
func setupPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (shared.EventPublisher, func()) {
	noop := func() {}
	if cfg.Redis.Disabled {
		return nil, noop
	}

	var rc *redis.Cache
	err := retry.Redis().Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		rc, err = redis.NewCache(ctx, cfg.Redis)
		return err
	})
	if err != nil {
		log.Warn("Redis unavailable, violations will not be relayed", "error", err)
		return nil, noop
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client: messaging.GoRedisClient{Client: rc.Client()},
		Logger: log,
	})
	if err != nil {
		_ = rc.Close()
		log.Warn("event relay unavailable", "error", err)
		return nil, noop
	}

	return bus, func() {
		_ = bus.Close()
		_ = rc.Close()
	}
}

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug || cfg.Observability.LogLevel == "debug" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() || cfg.Observability.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
