package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/nazanin90/adk-data-agent/internal/agents"
	"github.com/nazanin90/adk-data-agent/internal/circuitbreaker"
	cfg "github.com/nazanin90/adk-data-agent/internal/config"
	"github.com/nazanin90/adk-data-agent/internal/datachat"
	"github.com/nazanin90/adk-data-agent/internal/db"
	"github.com/nazanin90/adk-data-agent/internal/health"
	"github.com/nazanin90/adk-data-agent/internal/httpapi"
	"github.com/nazanin90/adk-data-agent/internal/orchestrator"
	"github.com/nazanin90/adk-data-agent/internal/session"
	"github.com/nazanin90/adk-data-agent/internal/streaming"
	"github.com/nazanin90/adk-data-agent/internal/tracing"
)

func main() {
	ctx := context.Background()

	config, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(config.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Start circuit breaker metrics collection
	circuitbreaker.StartMetricsCollection()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      config.Tracing.Enabled,
		ServiceName:  config.Tracing.ServiceName,
		OTLPEndpoint: config.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	if config.Streaming.RingCapacity > 0 {
		streaming.Configure(config.Streaming.RingCapacity)
	}

	// Bring up the health manager and HTTP endpoints early so probes respond
	// while the remaining components start.
	hm := health.NewManager(logger)
	httpMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(httpMux)
	httpapi.NewStreamingHandler(streaming.Get(), logger).RegisterRoutes(httpMux)

	// Session store backed by Redis
	sessions, err := session.NewManager(config.Redis.Addr, logger)
	if err != nil {
		logger.Fatal("Failed to initialize session manager", zap.Error(err))
	}
	defer sessions.Close()

	if rw := sessions.RedisWrapper(); rw != nil {
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(rw.GetClient(), rw, logger))
	}

	// Optional turn history persistence
	var dbClient *db.Client
	var audit orchestrator.AuditSink
	var history httpapi.TurnHistory
	if config.Database.Enabled {
		dbClient, err = db.NewClient(&db.Config{
			Host:     config.Database.Host,
			Port:     config.Database.Port,
			User:     config.Database.User,
			Password: config.Database.Password,
			Database: config.Database.Name,
			SSLMode:  config.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database client", zap.Error(err))
		}
		defer dbClient.Close()

		audit = dbClient
		history = dbClient
		_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.GetDB(), dbClient.Wrapper(), logger))
	}

	// Data chat backend client
	token := datachat.TokenSource(datachat.StaticToken(os.Getenv("BACKEND_ACCESS_TOKEN")))
	client := datachat.NewHTTPClient(datachat.HTTPClientOptions{
		BaseURL:   config.Backend.BaseURL,
		Project:   config.Backend.Project,
		Location:  config.Backend.Location,
		Token:     token,
		Timeout:   config.Backend.Timeout(),
		RateLimit: rate.Limit(config.Backend.RateLimit),
		Burst:     config.Backend.Burst,
	}, logger)

	_ = hm.RegisterChecker(health.NewBackendHealthChecker(config.Backend.BaseURL, logger))

	registry := agents.LoadRegistry()
	engine := orchestrator.NewEngine(orchestrator.Options{
		Sessions: sessions,
		Client:   client,
		Registry: registry,
		Streams:  streaming.Get(),
		Audit:    audit,
		AgentIDs: config.Backend.AgentIDs,
		Logger:   logger,
	})

	httpapi.NewTurnHandler(engine, history, logger).RegisterRoutes(httpMux)

	// Hot-reload of the agent registry config
	go func() {
		registryPath := agents.GetRegistryPath()
		configMgr, err := cfg.NewConfigManager(filepath.Dir(registryPath), logger)
		if err != nil {
			logger.Warn("Config manager init failed", zap.Error(err))
			return
		}
		configMgr.RegisterHandler(filepath.Base(registryPath), func(event cfg.ChangeEvent) error {
			agents.ReloadRegistry()
			logger.Info("Agent registry reloaded",
				zap.String("action", event.Action),
				zap.Int("agents", len(registry.Agents)))
			return nil
		})
		if err := configMgr.Start(ctx); err != nil {
			logger.Warn("Config manager start failed", zap.Error(err))
		}
	}()

	// Start background health checks and the API server
	go func() {
		_ = hm.Start(ctx)
	}()

	apiServer := &http.Server{
		Addr:         ":" + strconv.Itoa(config.Service.Port),
		Handler:      httpMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", config.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// Prometheus metrics endpoint on its own port
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		port := cfg.MetricsPort(config.Service.MetricsPort)
		addr := ":" + strconv.Itoa(port)
		logger.Info("Metrics server listening", zap.String("address", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down assistant service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	_ = hm.Stop()
}

func newLogger(logging cfg.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if logging.Format == "console" {
		zcfg.Encoding = "console"
	}
	if logging.Level != "" {
		level, err := zapcore.ParseLevel(logging.Level)
		if err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(level)
		}
	}
	return zcfg.Build()
}
