// Package bootstrap wires the import engine from configuration. The server
// and importctl share it so both run imports with the same collaborators.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/config"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/lock"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/logger"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/telemetry"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/vendor"
)

// Observability holds the logger and the OpenTelemetry providers
type Observability struct {
	Logger *zap.Logger
	Tracer *telemetry.TracerProvider
	Logs   *telemetry.LoggerProvider
}

// NewObservability builds the zap logger, tees it to OTLP when log export is
// enabled, and installs the tracer provider.
func NewObservability(ctx context.Context, cfg *config.Config) (*Observability, error) {
	base, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		Service:     cfg.Telemetry.ServiceName,
		Environment: cfg.App.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logs, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, base)
	if err != nil {
		return nil, fmt.Errorf("initialize log exporter: %w", err)
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	log := telemetry.TeeLogger(base, logs, level)

	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		_ = logs.Shutdown(ctx)
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}

	return &Observability{Logger: log, Tracer: tracer, Logs: logs}, nil
}

// Shutdown flushes the providers and syncs the logger
func (o *Observability) Shutdown(ctx context.Context) error {
	err := errors.Join(o.Tracer.Shutdown(ctx), o.Logs.Shutdown(ctx))
	_ = logger.Sync(o.Logger)
	return err
}

// Engine holds the wired import engine
type Engine struct {
	DB           *persistence.Database
	Redis        *redis.Client
	Metrics      *telemetry.ImportMetrics
	Integrations *persistence.GormIntegrationRepository
	Credentials  *persistence.GormCredentialRepository
	Runs         *persistence.GormImportRunRepository
	Orchestrator *importer.Orchestrator
}

// NewEngine connects to the database (and Redis when enabled) and builds the
// orchestrator over the gorm repositories, the vendor registry and the lease
// manager.
func NewEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Engine, error) {
	metrics := telemetry.NewImportMetrics()

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.SlowQueryThresh))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, err
	}

	plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.SlowQueryThresh,
	}, metrics, log)
	if err := plugin.Register(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register database tracing: %w", err)
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		if err := metrics.RegisterDB(sqlDB, cfg.Database.DBName); err != nil {
			log.Warn("Database pool metrics unavailable", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = db.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	backendOpts := []lock.BackendFactoryOption{
		lock.WithDatabase(db.DB),
		lock.WithKeyPrefix("afp:lease:"),
		lock.WithLogger(log),
	}
	if rdb != nil {
		backendOpts = append(backendOpts, lock.WithRedis(rdb))
	}
	leases := lock.NewManager(lock.NewBackend(backendOpts...), lock.Config{
		TTL:            cfg.Orchestrator.LeaseTTL,
		AcquireTimeout: cfg.Orchestrator.LeaseAcquireTimeout,
	}, log)

	integrations := persistence.NewGormIntegrationRepository(db.DB)
	credentials := persistence.NewGormCredentialRepository(db.DB)
	staging := persistence.NewGormStagingRepository(db.DB)
	runs := persistence.NewGormImportRunRepository(db.DB)

	transformer := importer.NewTransformer(
		integrations,
		staging,
		persistence.NewGormNormalizedRepository(db.DB),
		persistence.NewGormPendingReferenceRepository(db.DB),
		importer.NewMapperRegistry(),
		cfg.Orchestrator.MaxDeferrals,
		log,
	)

	orchestrator := importer.NewOrchestrator(importer.OrchestratorDeps{
		Integrations: integrations,
		Credentials:  credentials,
		Adapters:     vendor.NewDefaultRegistry(cfg.Vendors, rdb, log),
		Cursors:      persistence.NewGormCursorRepository(db.DB),
		Staging:      staging,
		Ledger:       runs,
		Leases:       leases,
		Transformer:  transformer,
		Metrics:      metrics,
		Logger:       log,
	}, importer.OrchestratorConfig{
		ComponentParallelism: cfg.Orchestrator.ComponentParallelism,
		PageRetryAttempts:    cfg.Orchestrator.PageRetryAttempts,
		PageRetryBaseDelay:   cfg.Orchestrator.PageRetryBaseDelay,
		PageRetryMaxDelay:    cfg.Orchestrator.PageRetryMaxDelay,
		FetchTimeout:         cfg.Orchestrator.FetchTimeout,
		RunBudget:            cfg.Orchestrator.RunBudget,
	})

	return &Engine{
		DB:           db,
		Redis:        rdb,
		Metrics:      metrics,
		Integrations: integrations,
		Credentials:  credentials,
		Runs:         runs,
		Orchestrator: orchestrator,
	}, nil
}

// Close releases the Redis and database connections
func (e *Engine) Close() error {
	var errs []error
	if e.Redis != nil {
		errs = append(errs, e.Redis.Close())
	}
	errs = append(errs, e.DB.Close())
	return errors.Join(errs...)
}
