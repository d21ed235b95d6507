package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/bootstrap"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/config"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/logger"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/scheduler"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/handler"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/middleware"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()

	obs, err := bootstrap.NewObservability(ctx, cfg)
	if err != nil {
		panic("Failed to initialize observability: " + err.Error())
	}
	log := obs.Logger
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown incomplete", zap.Error(err))
		}
	}()

	log.Info("Starting AFP integration server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	engine, err := bootstrap.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize import engine", zap.Error(err))
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("Error closing connections", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Scheduler lanes and the trigger service in front of them
	jobs, err := scheduler.NewImportScheduler(scheduler.ImportSchedulerConfig{
		HighWorkers:     cfg.Scheduler.HighWorkers,
		NormalWorkers:   cfg.Scheduler.NormalWorkers,
		PeriodicWorkers: cfg.Scheduler.PeriodicWorkers,
		QueueCapacity:   cfg.Scheduler.QueueCapacity,
		RetryBaseDelay:  cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:   cfg.Scheduler.RetryMaxDelay,
		HistorySize:     cfg.Scheduler.HistorySize,
	}, engine.Orchestrator, engine.Metrics, log)
	if err != nil {
		log.Fatal("Failed to create import scheduler", zap.Error(err))
	}

	triggers := importer.NewTriggerService(
		engine.Integrations,
		engine.Credentials,
		engine.Orchestrator,
		jobs,
		cfg.Scheduler.MaxAttempts,
		log,
	)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	if err := jobs.Start(runCtx); err != nil {
		log.Fatal("Failed to start import scheduler", zap.Error(err))
	}

	var cron *scheduler.ImportCronTrigger
	if cfg.Scheduler.Enabled {
		cron = scheduler.NewImportCronTrigger(scheduler.ImportCronTriggerConfig{
			DailyHour:   cfg.Scheduler.DailyHour,
			DailyMinute: cfg.Scheduler.DailyMinute,
			RunOnStart:  cfg.Scheduler.RunOnStart,
		}, triggers, log)
		if err := cron.Start(runCtx); err != nil {
			log.Fatal("Failed to start import cron trigger", zap.Error(err))
		}
	} else {
		log.Info("Periodic imports disabled")
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetupValidator()

	api := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := api.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests, store the request logger in the context
	// 4. Tracing - Server span per request, error status on 4xx/5xx
	// 5. Metrics - Request counters and latency by route pattern
	// 6. Security - Add security headers
	// 7. CORS - Handle cross-origin requests
	// 8. BodyLimit - Limit request body size
	// 9. RateLimit - Per client IP (if enabled)
	api.Use(middleware.RequestID())
	api.Use(logger.Recovery(log))
	api.Use(logger.GinMiddleware(log))
	api.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	api.Use(middleware.SpanErrorMarker())
	api.Use(middleware.Metrics(engine.Metrics))
	api.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	api.Use(middleware.CORSWithConfig(corsConfig))

	api.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitEnabled {
		api.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitPerSecond, cfg.HTTP.RateLimitBurst)))
		log.Info("Rate limiting enabled",
			zap.Float64("per_second", cfg.HTTP.RateLimitPerSecond),
			zap.Int("burst", cfg.HTTP.RateLimitBurst),
		)
	}

	importHandler := handler.NewImportHandler(triggers, jobs)
	runHandler := handler.NewRunHandler(engine.Runs, jobs, engine.Orchestrator)
	systemHandler := handler.NewSystemHandler(engine.DB, jobs)

	r := router.NewRouter(api, router.WithAPIVersion("v1"))
	r.Root(http.MethodGet, "/health", systemHandler.Health)
	r.Root(http.MethodGet, "/metrics", gin.WrapH(engine.Metrics.Handler()))

	// Trigger and monitoring
	importRoutes := router.NewDomainGroup("imports", "/imports")
	importRoutes.POST("", importHandler.Submit)
	importRoutes.GET("/jobs/:id", importHandler.GetJob)

	queueRoutes := router.NewDomainGroup("queue", "/queue")
	queueRoutes.GET("", importHandler.Queue)

	// Run ledger export
	runRoutes := router.NewDomainGroup("runs", "/runs")
	runRoutes.GET("", runHandler.List)
	runRoutes.GET("/:id", runHandler.Get)
	runRoutes.POST("/:id/cancel", runHandler.Cancel)

	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	r.Register(importRoutes).
		Register(queueRoutes).
		Register(runRoutes).
		Register(systemRoutes)
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        api,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cron != nil {
		if err := cron.Stop(shutdownCtx); err != nil {
			log.Warn("Import cron trigger stop incomplete", zap.Error(err))
		}
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		log.Warn("Import scheduler stop incomplete", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
