package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"domain-crawl/internal/api"
	"domain-crawl/internal/auth"
	"domain-crawl/internal/config"
	"domain-crawl/internal/dispatch"
	"domain-crawl/internal/enforcer"
	"domain-crawl/internal/logging"
	"domain-crawl/internal/mcp"
	"domain-crawl/internal/repository"
	"domain-crawl/internal/rotator"
	"domain-crawl/internal/telemetry"
	"domain-crawl/internal/worker"
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.NewLogger(cfg.Debug)
	logger.Info("Starting domain crawl service",
		"providers", len(cfg.Providers),
		"prompts", len(cfg.Prompts),
		"pool_size", cfg.Worker.PoolSize,
	)

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	store := repository.NewPostgresDomainStore(dbPool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		log.Fatalf("Schema migration failed: %v", err)
	}
	logger.Info("Database connected")

	// Resolve the provider panel; a provider with no credentials stays in
	// the panel and fails loudly per call rather than being skipped.
	panel := cfg.Panel()
	for _, p := range panel {
		if !p.Active() {
			logger.Warn("provider has no credentials configured; its calls will fail",
				"provider", p.Name)
		} else {
			logger.Info("provider configured",
				"provider", p.Name, "model", p.Model,
				"credentials", len(p.Credentials), "min_interval", p.MinInterval)
		}
	}

	metrics := telemetry.New(nil)
	rot := rotator.New(panel)
	prompts := cfg.PromptSpecs()

	dispatcher, err := dispatch.New(store, rot, panel, prompts, cfg.Worker.CallTimeout, logger, metrics)
	if err != nil {
		logger.Error("Failed to build dispatcher", "error", err)
		log.Fatalf("Dispatcher initialization failed: %v", err)
	}
	enf := enforcer.New(store, dispatcher.RequiredCount(), cfg.Worker.MaxRetries, logger, metrics)

	pool := worker.NewPool(store, dispatcher, enf, worker.Config{
		PoolSize:       cfg.Worker.PoolSize,
		PollInterval:   cfg.Worker.PollInterval,
		ClaimStaleness: cfg.Worker.ClaimStaleness,
		SourceFilter:   cfg.Worker.SourceFilter,
	}, logger, metrics)

	// Start the worker pool; cancelling workerCtx lets in-flight dispatches
	// finish or time out naturally.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workersDone := make(chan struct{})
	go func() {
		pool.Run(workerCtx)
		close(workersDone)
	}()

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("domain-crawl"))

	authz, err := auth.New(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}
	if authz.Enabled() {
		logger.Info("bearer token verification enabled", "issuer", cfg.Auth.Issuer)
	}

	handler := api.NewHandler(pool, store, cfg.Worker.DefaultBatch, logger)
	e.GET("/healthz", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.Middleware())
	handler.RegisterRoutes(apiGroup)

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(pool, store)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		stopWorkers()
		<-workersDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
