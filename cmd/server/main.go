// Package main is the entry point of the StudyQuest server.
//
// The server exposes the progression REST API and the websocket notification
// stream, and runs the background integrity audit. Storage is PostgreSQL
// when DATABASE_URL is set and in-memory otherwise; Redis adds the snapshot
// cache, the distributed per-user lock and cross-instance event relay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/application/command"
	"github.com/studyquest/studyquest-hub/internal/application/eventhandler"
	"github.com/studyquest/studyquest-hub/internal/application/query"
	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/messaging"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/memory"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/postgres"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/redis"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/scheduler"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/studyquest/studyquest-hub/internal/interface/http"
	"github.com/studyquest/studyquest-hub/internal/interface/http/handlers"
	"github.com/studyquest/studyquest-hub/internal/interface/ws"
	"github.com/studyquest/studyquest-hub/pkg/circuitbreaker"
	"github.com/studyquest/studyquest-hub/pkg/logger"
	"github.com/studyquest/studyquest-hub/pkg/retry"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// storage groups the backends chosen at startup.
type storage struct {
	users    progression.Repository
	clans    clan.Repository
	sessions command.SessionCommitter
	cache    progression.SnapshotCache
	locker   progression.Locker
	bus      shared.EventBus

	closers []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewFromConfig(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		With(logger.String("service", cfg.App.Name))
	slogger := setupSlog(cfg)

	log.Info("starting StudyQuest server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("default_timezone", cfg.App.DefaultTimezone),
	)
	for _, f := range cfg.Features.Snapshot() {
		log.Debug("feature flag",
			logger.String("feature", f.Name),
			logger.Bool("enabled", f.Enabled),
			logger.Int("rollout_percent", f.RolloutPercent),
		)
	}

	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store := &storage{}
	defer store.close()

	if err := setupDatabase(ctx, cfg, log, store, checker); err != nil {
		return err
	}
	if err := setupRedis(ctx, cfg, log, slogger, store, checker); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	seed := cfg.Progression.GoalSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	goals := progression.NewRandomGoalGenerator(seed)
	clock := timeutil.SystemClock{}

	deps := command.Deps{
		Users:     store.users,
		Clans:     store.clans,
		Sessions:  store.sessions,
		Cache:     store.cache,
		Locker:    store.locker,
		Publisher: store.bus,
		Features:  cfg.Features,
		Clock:     clock,
		Logger:    log,
	}
	settings := command.SettingsFromConfig(cfg)

	if cfg.Progression.IntegritySalt == "" {
		log.Warn("integrity salt is empty; snapshot hashes are not secret")
	}

	if err := eventhandler.NewOnIntegrityViolationHandler(store.cache, slogger).Register(store.bus); err != nil {
		return fmt.Errorf("failed to register integrity handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. NOTIFICATION STREAM
	// ─────────────────────────────────────────────────────────────────────────
	hub := ws.NewHub(ws.ConfigFromApp(cfg.HTTP), cfg.Features, log)
	if err := hub.Attach(store.bus,
		messaging.RecoveryMiddleware(slogger),
		messaging.LoggingMiddleware(slogger),
	); err != nil {
		return fmt.Errorf("failed to attach notification hub: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpapi.NewServer(httpapi.ConfigFromApp(cfg.HTTP), httpapi.Dependencies{
		RegisterUser:  command.NewRegisterUserHandler(deps, settings, goals),
		LogSession:    command.NewLogStudySessionHandler(deps, settings, progression.NewEngine(goals, clock)),
		Prestige:      command.NewPrestigeHandler(deps, settings),
		ClaimClanPerk: command.NewClaimClanPerkHandler(deps, settings),
		AdminOverride: command.NewAdminOverrideHandler(deps, settings),
		CreateClan:    command.NewCreateClanHandler(deps, settings),
		SetClan:       command.NewSetClanHandler(deps, settings),
		GetProgress:   query.NewGetProgressHandler(store.users, store.cache, settings.CacheTTL, settings.IntegritySalt, log),
		GetClan:       query.NewGetClanHandler(store.clans),
		EventStream:   hub,
		HealthChecker: checker,
		AdminAuth:     handlers.NewAdminKeyAuth(cfg.HTTP.AdminKeyHash),
		Logger:        log,
	})
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = setupScheduler(ctx, cfg, slogger, store)
		if err != nil {
			_ = server.Shutdown(context.Background())
			return err
		}
	}

	log.Info("StudyQuest server is running", logger.String("address", cfg.HTTP.Addr()))

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
			log.Error("HTTP server failed", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", logger.Err(err))
	}
	_ = hub.Close()

	log.Info("shutdown completed")
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// SETUP
// ══════════════════════════════════════════════════════════════════════════════

func setupDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger, store *storage, checker *handlers.CompositeHealthChecker) error {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		mem := memory.NewStore()
		store.users = mem.Progressions()
		store.clans = mem.Clans()
		store.sessions = mem
		return nil
	}

	log.Info("connecting to database...")
	var conn *postgres.Connection
	err := retry.Database().Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		conn, err = postgres.NewConnection(ctx, cfg.Database)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	store.closers = append(store.closers, conn.Close)
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	store.users = postgres.NewProgressionRepository(conn)
	store.clans = postgres.NewClanRepository(conn)
	store.sessions = postgres.NewSessionStore(conn)
	checker.AddCheck("postgres", handlers.PingCheck(conn))
	return nil
}

func setupRedis(ctx context.Context, cfg *config.Config, log *logger.Logger, slogger *slog.Logger, store *storage, checker *handlers.CompositeHealthChecker) error {
	useMemory := func() {
		store.cache = memory.NewSnapshotCache()
		store.locker = memory.NewLocker()
		bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: slogger})
		store.bus = bus
		store.closers = append(store.closers, func() { _ = bus.Close() })
	}

	if cfg.Redis.Disabled {
		log.Info("Redis disabled, using in-process cache, lock and event bus")
		useMemory()
		return nil
	}

	log.Info("connecting to Redis...")
	var rc *redis.Cache
	err := retry.Redis().Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		rc, err = redis.NewCache(ctx, cfg.Redis)
		return err
	})
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Warn("Redis unavailable, falling back to in-process cache", logger.Err(err))
		useMemory()
		return nil
	}
	store.closers = append(store.closers, func() { _ = rc.Close() })

	breaker := redis.NewBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	store.cache = redis.NewSnapshotCache(rc, breaker)
	store.locker = redis.NewLocker(rc)

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client: messaging.GoRedisClient{Client: rc.Client()},
		Logger: slogger,
	})
	if err != nil {
		return fmt.Errorf("failed to start event relay: %w", err)
	}
	store.bus = bus
	store.closers = append(store.closers, func() { _ = bus.Close() })

	checker.AddOptionalCheck("redis", handlers.PingCheck(rc))
	log.Info("Redis connection established")
	return nil
}

func setupScheduler(ctx context.Context, cfg *config.Config, slogger *slog.Logger, store *storage) (*scheduler.Scheduler, error) {
	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.AuditSchedule())
	if err != nil {
		return nil, fmt.Errorf("invalid integrity audit schedule: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:            slogger,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	})

	job := jobs.NewIntegrityAuditJob(store.users, store.bus, cfg.Progression.IntegritySalt, cfg.Scheduler.IntegrityAuditBatchSize, slogger)
	if err := sched.Register(job, schedule); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}
	sched.OnJobError(func(name string, err error) {
		slogger.Error("scheduled job failed", "job", name, "error", err)
	})

	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	return sched, nil
}

// setupSlog configures the slog logger used by the messaging and scheduler
// infrastructure.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug || cfg.Observability.LogLevel == "debug" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}
