// Package main provides the main entry point for the astro-dispatch broadcast service
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/astro-dispatch/app/handlers"
	"github.com/amirphl/astro-dispatch/app/logging"
	"github.com/amirphl/astro-dispatch/app/middleware"
	"github.com/amirphl/astro-dispatch/app/router"
	"github.com/amirphl/astro-dispatch/app/scheduler"
	"github.com/amirphl/astro-dispatch/app/services"
	businessflow "github.com/amirphl/astro-dispatch/business_flow"
	"github.com/amirphl/astro-dispatch/config"
	"github.com/amirphl/astro-dispatch/migrations"
	"github.com/amirphl/astro-dispatch/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	logger    zerolog.Logger
	closers   []io.Closer
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	logger.Info().
		Str("environment", cfg.Deployment.Environment).
		Str("version", cfg.Deployment.Version).
		Msg("starting astro-dispatch")

	app, err := initializeApplication(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	app.closers = append(app.closers, logCloser)

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-sigChan
	logger.Info().Msg("shutting down gracefully")
	app.shutdown()
}

func (a *Application) shutdown() {
	// background workers first so no batch starts while the server drains
	for i := len(a.stopFuncs) - 1; i >= 0; i-- {
		a.stopFuncs[i]()
	}

	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.router.GetApp().ShutdownWithContext(ctx); err != nil {
		a.logger.Error().Err(err).Msg("error during shutdown")
	}

	a.logger.Info().Msg("server stopped")
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// gormLogWriter routes gorm's slow query and error output through zerolog
type gormLogWriter struct {
	logger zerolog.Logger
}

func (w gormLogWriter) Printf(format string, args ...any) {
	w.logger.Warn().Msgf(format, args...)
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger zerolog.Logger) (*gorm.DB, error) {
	level := gormlogger.Error
	if cfg.SlowQueryLog {
		level = gormlogger.Warn
	}
	gormLog := gormlogger.New(gormLogWriter{logger: logging.Component(logger, "gorm")}, gormlogger.Config{
		SlowThreshold:             cfg.SlowQueryTime,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(sqlDB); err != nil {
			return nil, err
		}
		version, _ := migrations.Version(sqlDB)
		logger.Info().Int64("schema_version", version).Msg("migrations applied")
	}

	logger.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("database connection established")
	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity.
// A nil client means progress fan-out stays in-process.
func initializeCache(cfg config.CacheConfig, logger zerolog.Logger) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Int("db", cfg.RedisDB).Msg("redis connection established")
	return rc, nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig, logger zerolog.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: logger}

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		app.closers = append(app.closers, sqlDB)
	}

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	jobRepo := repository.NewBroadcastJobRepository(db)
	recipientRepo := repository.NewBroadcastRecipientRepository(db)
	subscriberRepo := repository.NewSubscriberRepository(db)
	tx := repository.NewTransactor(db)

	// Initialize services
	telegram := services.NewTelegramService(cfg.Telegram, logger)
	if !telegram.Configured() {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN is empty, dispatch triggers will fail")
	}

	hub := services.NewProgressHub()
	var (
		publisher  services.ProgressPublisher  = hub
		subscriber services.ProgressSubscriber = hub
	)
	if rc != nil {
		broker := services.NewRedisProgressBroker(rc, cfg.Cache.RedisPrefix, cfg.Cache.DefaultTTL, hub, logger)
		publisher, subscriber = broker, broker
		app.stopFuncs = append(app.stopFuncs, broker.Start(context.Background()))
		app.closers = append(app.closers, rc)
	}

	tokenService, err := services.NewTokenService(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Dispatch engine and worker pool
	dispatcher := scheduler.NewBroadcastDispatcher(jobRepo, recipientRepo, tx, telegram, publisher, cfg.Dispatch, logger)
	worker := scheduler.NewDispatchWorker(dispatcher, cfg.Dispatch, logger)
	if cfg.Dispatch.WorkerEnabled {
		app.stopFuncs = append(app.stopFuncs, worker.Start(context.Background()))
	}

	// Initialize flows
	broadcastFlow := businessflow.NewBroadcastFlow(
		jobRepo,
		subscriberRepo,
		tx,
		telegram,
		publisher,
		worker,
		cfg.Dispatch.KickOnCreate,
		logger,
	)
	historyFlow := businessflow.NewBroadcastHistoryFlow(jobRepo, recipientRepo)
	maintenanceFlow := businessflow.NewBroadcastMaintenanceFlow(jobRepo, publisher, logger)
	dispatchFlow := businessflow.NewBroadcastDispatchFlow(dispatcher, worker)

	if cfg.Maintenance.Enabled {
		maintenance := scheduler.NewMaintenanceScheduler(maintenanceFlow, cfg.Maintenance, logger)
		stop, err := maintenance.Start(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}
		app.stopFuncs = append(app.stopFuncs, stop)
	}

	// Initialize handlers
	h := router.Handlers{
		Admin:    handlers.NewBroadcastAdminHandler(broadcastFlow, historyFlow, maintenanceFlow, logger),
		Stream:   handlers.NewBroadcastStreamHandler(broadcastFlow, subscriber, cfg.Dispatch.ProgressPing, cfg.Dispatch.ProgressBufferSize, logger),
		Dispatch: handlers.NewDispatchHandler(dispatchFlow, logger),
	}
	auth := middleware.NewAuthMiddleware(tokenService, cfg.Security.APIKeyHeader, cfg.Security.SchedulerAPIKeys)

	app.router = router.NewFiberRouter(cfg, h, auth, logger)
	return app, nil
}
