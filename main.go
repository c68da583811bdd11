package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/adapters/connector"
	_ "github.com/strata-data/extract-engine/pkg/adapters/connector/mssql"
	_ "github.com/strata-data/extract-engine/pkg/adapters/connector/postgres"
	_ "github.com/strata-data/extract-engine/pkg/adapters/connector/restapi"
	"github.com/strata-data/extract-engine/pkg/config"
	"github.com/strata-data/extract-engine/pkg/database"
	"github.com/strata-data/extract-engine/pkg/handlers"
	"github.com/strata-data/extract-engine/pkg/metrics"
	"github.com/strata-data/extract-engine/pkg/middleware"
	"github.com/strata-data/extract-engine/pkg/repositories"
	"github.com/strata-data/extract-engine/pkg/retry"
	"github.com/strata-data/extract-engine/pkg/services/depgraph"
	"github.com/strata-data/extract-engine/pkg/services/extraction"
	"github.com/strata-data/extract-engine/pkg/staging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("extract-engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting extract-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Database.Database))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		return err
	}

	depRepo := repositories.NewDependencyRepository(db)
	extRepo := repositories.NewExtractionRepository(db)

	depMgr := depgraph.NewManager(depRepo, logger)
	if err := depMgr.Load(ctx); err != nil {
		return err
	}

	stage, err := staging.NewFilesystemManager(cfg.Staging.Dir, logger)
	if err != nil {
		return err
	}

	factory := connector.NewFactory(logger)
	cache := connector.NewCache(factory, cfg.Connectors.ConnectorTTL(), logger)
	defer cache.Close()

	classifier, err := loadClassifier(cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	orch := extraction.NewOrchestrator(
		extraction.Config{
			Workers:      cfg.Orchestrator.Workers,
			QueueDepth:   cfg.Orchestrator.QueueDepth,
			SubmitRate:   cfg.Orchestrator.SubmitRate,
			SubmitBurst:  cfg.Orchestrator.SubmitBurst,
			HistoryLimit: cfg.Orchestrator.HistoryLimit,
			Retry: &retry.Config{
				MaxRetries:   cfg.Retry.MaxRetries,
				InitialDelay: cfg.Retry.InitialDelay(),
				MaxDelay:     cfg.Retry.MaxDelay(),
				Multiplier:   cfg.Retry.Multiplier,
				JitterFactor: cfg.Retry.JitterFactor,
			},
		},
		depMgr, extRepo, cache, stage, classifier, m, logger,
	)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewExtractionHandler(orch, extRepo, logger).RegisterRoutes(mux)
	handlers.NewDependencyHandler(depMgr, depRepo, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := orch.Close(); err != nil {
		logger.Warn("orchestrator shutdown", zap.Error(err))
	}
	return nil
}

func loadClassifier(cfg *config.Config, logger *zap.Logger) (extraction.Classifier, error) {
	if cfg.ClassifierRules == "" {
		return extraction.NewDefaultClassifier(), nil
	}
	c, err := extraction.LoadClassifier(cfg.ClassifierRules)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded classifier rules", zap.String("path", cfg.ClassifierRules))
	return c, nil
}
