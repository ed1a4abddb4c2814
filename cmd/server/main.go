package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/capforge/api/docs"
	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/config"
	"github.com/capforge/api/internal/database"
	"github.com/capforge/api/internal/dsl"
	"github.com/capforge/api/internal/eventbus"
	"github.com/capforge/api/internal/handlers"
	"github.com/capforge/api/internal/jobs"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/pipeline"
	"github.com/capforge/api/internal/telemetry"
	"github.com/capforge/api/internal/usage"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// @title capforge API
// @version 0.1.0
// @description Capability-grounded UI generation: an agentic pipeline that turns a prompt into a bound HTML/CSS/JS fragment.
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("capforge API starting...",
		zap.String("version", handlers.Version),
		zap.String("environment", cfg.Environment),
	)

	shutdownTelemetry, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    handlers.ServiceName,
		ServiceVersion: handlers.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		// the API works without a collector
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	// Capability map
	maps := capability.NewWatcher(cfg.CapabilityMapPath, logger)
	if cfg.CapabilityMapWatch {
		if err := maps.Start(ctx); err != nil {
			logger.Warn("capability map watch disabled", zap.Error(err))
		} else {
			defer maps.Stop()
		}
	}
	summary := capability.Summarize(maps.Current())
	logger.Info("capability map loaded",
		zap.String("path", cfg.CapabilityMapPath),
		zap.Int("queries", summary.Queries),
		zap.Int("actions", summary.Actions),
	)

	// LLM client
	catalog := llm.NewCatalog(cfg.APIKeys(), cfg.LLMExtraModels)
	// NewClient logs breaker transitions
	breaker := llm.NewCircuitBreaker()
	client := llm.NewClient(catalog, breaker, cfg.LLMRequestTimeout, logger)
	orchestrator := pipeline.NewOrchestrator(client, catalog, maps, logger)
	legacy := dsl.NewService(client, catalog, maps, logger)

	// Job store
	var (
		store   jobs.Store
		redisDB *database.Redis
	)
	switch cfg.JobStore {
	case config.StoreRedis:
		redisDB, err = database.NewRedis(ctx, database.JobStoreRedisConfig(cfg.RedisURL, cfg.RunnerWorkers, cfg.RedisPoolSize), logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisDB.Close()
		store = jobs.NewRedisStore(redisDB.Client(), cfg.JobTTL)
		logger.Info("using redis job store", zap.Duration("ttl", cfg.JobTTL))
	default:
		mem := jobs.NewMemoryStore(cfg.JobTTL)
		sweeperDone := mem.StartSweeper(ctx, time.Minute, logger)
		defer func() { <-sweeperDone }()
		store = mem
		logger.Info("using in-memory job store", zap.Duration("ttl", cfg.JobTTL))
	}

	// Lifecycle events
	var (
		events   jobs.EventPublisher
		history  handlers.EventHistory
		natsPing handlers.Pinger
	)
	if cfg.EventsBackend != config.EventsNone {
		nc, err := eventbus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS, job events disabled", zap.Error(err))
		} else {
			defer nc.Drain()
			natsPing = natsPinger(nc)
			if cfg.EventsBackend == config.EventsJetStream {
				js, err := eventbus.NewJetStreamPublisher(nc, cfg.EventsMaxAge)
				if err != nil {
					logger.Error("failed to init JetStream, falling back to core NATS", zap.Error(err))
					events = eventbus.NewPublisher(nc)
				} else {
					events, history = js, js
				}
			} else {
				events = eventbus.NewPublisher(nc)
			}
		}
	}

	// Usage ledger
	var (
		ledger *usage.Ledger
		dbPing handlers.Pinger
	)
	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		db, err := database.NewPostgres(ctx, database.LedgerPoolConfig(cfg.DatabaseURL, cfg.RunnerWorkers, cfg.DatabaseMaxConns), logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		ledger = usage.NewLedger(db.Pool(), logger)
		dbPing = db
	}

	// Runner
	opts := []jobs.RunnerOption{jobs.WithEvents(events)}
	var recorder jobs.UsageRecorder
	var reader handlers.UsageReader
	if ledger != nil {
		opts = append(opts, jobs.WithUsage(ledger))
		recorder, reader = ledger, ledger
	}
	runner := jobs.NewRunner(store, orchestrator, jobs.RunnerConfig{
		Workers:   cfg.RunnerWorkers,
		QueueSize: cfg.RunnerQueueSize,
	}, logger, opts...)
	runner.Start(ctx)

	var redisPing handlers.Pinger
	if redisDB != nil {
		redisPing = redisDB
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	docs.SwaggerInfo.BasePath = cfg.BasePath

	router := newRouter(routerDeps{
		cfg:      cfg,
		logger:   logger,
		breaker:  breaker,
		generate: handlers.NewGenerateHandler(runner, orchestrator, legacy, catalog, recorder, logger),
		jobs:     handlers.NewJobHandler(runner, history, logger),
		caps:     handlers.NewCapabilityHandler(maps),
		usage:    handlers.NewUsageHandler(reader, logger),
		health:   handlers.NewHealthHandler(dbPing, redisPing, natsPing, breaker, maps),
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: SSE responses stay open for the whole pipeline run
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port), zap.String("base_path", cfg.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("job runner forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zapConfig.Build()
}

func natsPinger(nc *nats.Conn) handlers.Pinger {
	return handlers.PingFunc(func(ctx context.Context) error {
		if !nc.IsConnected() {
			return errors.New("not connected: " + nc.Status().String())
		}
		return nc.FlushWithContext(ctx)
	})
}
