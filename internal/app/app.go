// Package app wires configuration, storage, caches, use cases, background
// jobs and the HTTP server into one container shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/beltline/progression-engine/config"
	"github.com/beltline/progression-engine/internal/application/command"
	"github.com/beltline/progression-engine/internal/application/eventhandler"
	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/points"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/internal/infrastructure/catalog"
	"github.com/beltline/progression-engine/internal/infrastructure/messaging"
	"github.com/beltline/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/beltline/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/beltline/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/beltline/progression-engine/internal/infrastructure/scheduler"
	"github.com/beltline/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/beltline/progression-engine/internal/infrastructure/service"
	httpapi "github.com/beltline/progression-engine/internal/interface/http"
	"github.com/beltline/progression-engine/internal/interface/http/handlers"
	"github.com/beltline/progression-engine/pkg/circuitbreaker"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// UserStore is a user repository that can also list by cached points.
type UserStore interface {
	user.Repository
	query.UserLister
}

// Storage groups the repositories of one backend.
type Storage struct {
	Users    UserStore
	Progress progress.Repository
	Checkins checkin.Ledger
	Exams    exam.Repository
}

// MemoryStorage returns a fresh in-memory backend.
func MemoryStorage() Storage {
	s := memory.New()
	return Storage{Users: s.Users(), Progress: s.Progress(), Checkins: s.Checkins(), Exams: s.Exams()}
}

// PostgresStorage returns repositories over conn.
func PostgresStorage(conn *postgres.Connection) Storage {
	return Storage{
		Users:    postgres.NewUserRepository(conn),
		Progress: postgres.NewProgressRepository(conn),
		Checkins: postgres.NewCheckinRepository(conn),
		Exams:    postgres.NewExamRepository(conn),
	}
}

// Options override parts of the container, mostly for tests.
type Options struct {
	// Storage replaces the configured backend.
	Storage *Storage
	// Catalog replaces the file named in the configuration.
	Catalog *catalog.Static
	// Cache replaces the Redis connection built from the configuration.
	Cache *redis.Cache
	Clock timeutil.Clock
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTAINER
// ══════════════════════════════════════════════════════════════════════════════

// App holds every long-lived component.
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Clock   timeutil.Clock
	Catalog *catalog.Static
	Storage Storage

	DB    *postgres.Connection
	Cache *redis.Cache
	Bus   *messaging.InMemoryEventBus

	Health    *handlers.Health
	Handlers  httpapi.Dependencies
	Scheduler *scheduler.Scheduler

	closers []func()
}

// New builds the container. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Config: cfg, Logger: log, Clock: opts.Clock}
	if a.Clock == nil {
		a.Clock = timeutil.SystemClock{}
	}
	loc := cfg.App.Location

	if err := a.initCatalog(opts); err != nil {
		return nil, err
	}
	if err := a.initStorage(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	a.initCache(opts)

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = true
	busCfg.Logger = log
	a.Bus = messaging.NewInMemoryEventBus(busCfg)
	a.closers = append(a.closers, func() { _ = a.Bus.Close() })

	audit := eventhandler.NewAuditHandler(log, eventhandler.DefaultAuditConfig())
	if err := a.Bus.SubscribeAll(audit.Handle); err != nil {
		a.Close()
		return nil, fmt.Errorf("subscribe audit: %w", err)
	}
	if a.Cache != nil {
		fwd := messaging.NewRedisForwarder(a.Cache, log)
		if err := a.Bus.SubscribeAll(fwd.Handle); err != nil {
			a.Close()
			return nil, fmt.Errorf("subscribe forwarder: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Redis-backed adapters behind one breaker
	// ─────────────────────────────────────────────────────────────────────────
	breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	var (
		pointsRanking *redis.PointsRanking
		guard         *redis.CheckinGuard
	)
	if a.Cache != nil {
		pointsRanking = redis.NewPointsRanking(a.Cache)
		guard = redis.NewCheckinGuard(a.Cache, 0)
	}
	ranking := service.NewRankingAdapter(pointsRanking, breaker)
	checkinGuard := service.NewCheckinGuardAdapter(guard, breaker)

	// ─────────────────────────────────────────────────────────────────────────
	// Use cases
	// ─────────────────────────────────────────────────────────────────────────
	st := a.Storage
	rules := eligibility.Rules{
		MinCompletionRate: cfg.Rules.MinCompletionRate,
		MinRecentCheckins: cfg.Rules.MinRecentCheckins,
		RecentWindowDays:  cfg.Rules.RecentWindowDays,
	}
	engine := eligibility.NewEngine(rules)
	score := query.NewScoreCalculator(query.ScoreCalculatorDeps{
		Users:    st.Users,
		Catalog:  a.Catalog,
		Progress: st.Progress,
		Ledger:   st.Checkins,
		Rules: points.Rules{
			CheckinPoints:   cfg.Rules.CheckinPoints,
			StreakWeekDays:  cfg.Rules.StreakWeekDays,
			StreakWeekBonus: cfg.Rules.StreakWeekBonus,
		},
		Ranking:   ranking,
		Publisher: a.Bus,
		Clock:     a.Clock,
		Location:  loc,
		Logger:    log,
	})
	facts := query.NewFactsLoader(st.Users, a.Catalog, st.Progress, st.Checkins, rules.RecentWindowDays, a.Clock, loc)
	retryCfg := command.DefaultRetryConfig()
	sessionAdmin := command.NewSessionAdminHandler(a.Catalog, st.Exams, a.Bus, a.Clock, retryCfg, log)

	a.Health = handlers.NewHealth(cfg.App.Version)
	if a.DB != nil {
		a.Health.Add("postgres", handlers.PingCheck(a.DB))
	}
	if a.Cache != nil {
		a.Health.AddOptional("redis", handlers.PingCheck(a.Cache))
	}

	a.Handlers = httpapi.Dependencies{
		RecordCheckin: command.NewRecordCheckinHandler(st.Users, st.Checkins, checkinGuard, score, a.Bus, a.Clock, loc,
			command.RecordCheckinConfig{Points: cfg.Rules.CheckinPoints, BackfillDays: cfg.Rules.BackfillDays}, log),
		SubmitEvidence:     command.NewSubmitEvidenceHandler(st.Users, a.Catalog, st.Progress, a.Bus, a.Clock, retryCfg, log),
		ReviewProgress:     command.NewReviewProgressHandler(st.Users, a.Catalog, st.Progress, score, a.Bus, a.Clock, retryCfg, log),
		RegisterExam:       command.NewRegisterExamHandler(st.Users, a.Catalog, st.Exams, facts, engine, a.Bus, a.Clock, retryCfg, log),
		CancelRegistration: command.NewCancelRegistrationHandler(st.Exams, a.Bus, a.Clock, log),
		RecordOutcome:      command.NewRecordOutcomeHandler(st.Users, st.Exams, a.Bus, a.Clock, retryCfg, log),
		SessionAdmin:       sessionAdmin,
		GetEligibility:     query.NewGetEligibilityHandler(facts, engine),
		GetUser:            query.NewGetUserHandler(st.Users),
		GetScore:           query.NewGetScoreHandler(st.Users, score, a.Clock),
		ListCheckins:       query.NewListCheckinsHandler(st.Checkins, a.Clock, loc),
		GetLeaderboard:     query.NewGetLeaderboardHandler(ranking, st.Users, a.Clock, log),
		Sessions:           query.NewSessionsHandler(st.Exams),
		Health:             a.Health,
		Logger:             log,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Background jobs
	// ─────────────────────────────────────────────────────────────────────────
	a.Scheduler = scheduler.New(scheduler.Config{Logger: log, Location: loc, Now: a.Clock.Now})
	sc := cfg.Scheduler
	for _, j := range []struct {
		job  scheduler.Job
		spec string
	}{
		{jobs.NewCloseSessionsJob(st.Exams, sessionAdmin, a.Clock, sc.SessionGrace, log), sc.CloseSessionsSchedule},
		{jobs.NewReconcileScoresJob(st.Checkins, st.Users, score, a.Clock, loc, sc.ReconcileLookbackDays, sc.ReconcileWorkers, log), sc.ReconcileScoresSchedule},
		{jobs.NewRebuildRankingJob(st.Users, ranking, a.Clock, sc.RankingSize, log), sc.RebuildRankingSchedule},
	} {
		schedule, err := scheduler.ParseSchedule(j.spec)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("job %s: %w", j.job.Name(), err)
		}
		if err := a.Scheduler.Register(j.job, schedule); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) initCatalog(opts Options) error {
	if opts.Catalog != nil {
		a.Catalog = opts.Catalog
		return nil
	}
	cat, err := catalog.LoadFile(a.Config.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	a.Catalog = cat
	return nil
}

func (a *App) initStorage(ctx context.Context, opts Options) error {
	if opts.Storage != nil {
		a.Storage = *opts.Storage
		return nil
	}
	db := a.Config.Database
	if db.Driver == config.DriverMemory {
		a.Logger.Warn("using in-memory storage; data is lost on restart")
		a.Storage = MemoryStorage()
		return nil
	}

	conn, err := postgres.NewConnectionFromURL(ctx, db.URL, postgres.PoolOptions{
		MaxConns:        int32(db.MaxConns),
		MinConns:        int32(db.MinConns),
		MaxConnLifetime: db.ConnMaxLifetime,
		MaxConnIdleTime: db.ConnMaxIdleTime,
		QueryTimeout:    db.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	a.Logger.Info("database connection established")

	if db.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}
	a.Storage = PostgresStorage(conn)
	return nil
}

// initCache connects to Redis. The cache is optional: a failed connection
// is logged and the process runs without it.
func (a *App) initCache(opts Options) {
	if opts.Cache != nil {
		a.Cache = opts.Cache
		return
	}
	rc := a.Config.Redis
	if rc.Disabled {
		return
	}
	cfg := redis.DefaultConfig()
	cfg.Host = rc.Host
	cfg.Port = rc.Port
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	cfg.PoolSize = rc.PoolSize
	cfg.MinIdleConns = rc.MinIdleConns
	cfg.DialTimeout = rc.DialTimeout
	cfg.ReadTimeout = rc.ReadTimeout
	cfg.WriteTimeout = rc.WriteTimeout
	cfg.KeyPrefix = rc.KeyPrefix

	cache, err := redis.NewCache(cfg)
	if err != nil {
		a.Logger.Warn("failed to connect to Redis, running without cache", logger.Err(err))
		return
	}
	a.Cache = cache
	a.closers = append(a.closers, func() { _ = cache.Close() })
	a.Logger.Info("Redis connection established")
}

// Migrate applies pending schema migrations. It is a no-op for the memory
// driver.
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	start := time.Now()
	if err := postgres.NewMigrator(a.DB).Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.Logger.Info("database schema is up to date", logger.Latency(time.Since(start)))
	return nil
}

// HTTPServer builds the API server from the configuration.
func (a *App) HTTPServer() (*httpapi.Server, error) {
	h := a.Config.HTTP
	cfg := httpapi.DefaultConfig()
	cfg.Host = h.Host
	cfg.Port = h.Port
	cfg.ReadTimeout = h.ReadTimeout
	cfg.WriteTimeout = h.WriteTimeout
	cfg.ShutdownTimeout = a.Config.App.ShutdownTimeout
	cfg.AllowedOrigins = h.AllowedOrigins
	cfg.TrustedProxies = h.TrustedProxies
	cfg.RateLimitPerMinute = h.RateLimitPerMinute
	cfg.JWTSecret = h.JWTSecret
	cfg.JWTIssuer = h.JWTIssuer
	cfg.RequireAuth = h.RequireAuth
	cfg.ServiceKeys = h.ServiceKeys
	return httpapi.NewServer(cfg, a.Handlers)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	if o := cfg.Observability; o.LogFile != "" {
		opts.File = &logger.FileOptions{
			Path:       o.LogFile,
			MaxSizeMB:  o.LogMaxSizeMB,
			MaxBackups: o.LogMaxBackups,
			MaxAgeDays: o.LogMaxAgeDays,
			Compress:   true,
		}
	}
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)
}
