package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/conduit/internal/config"
	"github.com/af-corp/conduit/internal/gateway"
	"github.com/af-corp/conduit/internal/generator"
	"github.com/af-corp/conduit/internal/ratelimit"
	"github.com/af-corp/conduit/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	loader := config.NewLoader(*configDir, slog.Default())
	if err := loader.Load(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// PostgreSQL backs the durable credential and history stores.
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable, durable stores will fail", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Redis backs the cache store, the credential read cache, and the rate
	// limiter. The gateway runs without it if endpoints only use memory
	// backends.
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	gen := generator.NewClient(generator.ClientConfig{
		BaseURL:                 cfg.Generation.BaseURL,
		APIKey:                  cfg.Generation.APIKey,
		Timeout:                 cfg.Generation.Timeout,
		CircuitFailureThreshold: cfg.Generation.CircuitBreaker.FailureThreshold,
		CircuitProbeInterval:    cfg.Generation.CircuitBreaker.RecoveryProbeInterval,
	})

	resources := gateway.Resources{
		DB:        dbPool,
		Redis:     rdb,
		Generator: gen,
		Metrics:   metrics,
		Logger:    logger,
	}

	registry, err := gateway.BuildRegistry(loader.Endpoints(), resources)
	if err != nil {
		logger.Error("failed to build endpoints", "error", err)
		os.Exit(1)
	}
	loader.OnReload(func() {
		rebuilt, err := gateway.BuildRegistry(loader.Endpoints(), resources)
		if err != nil {
			logger.Error("endpoint reload rejected", "error", err)
			return
		}
		registry.Replace(rebuilt)
		logger.Info("endpoints reloaded", "endpoints", len(rebuilt.Names()))
	})

	handler := gateway.NewHandler(registry, ratelimit.NewLimiter(rdb), logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(gateway.RequestID)

	r.Get("/conduit/v1/health", healthHandler)
	handler.Routes(r)

	if cfg.Telemetry.MetricsPort > 0 {
		go serveMetrics(cfg.Telemetry.MetricsPort, logger)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("conduit starting", "addr", addr, "version", version, "endpoints", len(registry.Names()))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("conduit stopped")
}

func newLogger(tc config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(tc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if tc.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics server starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
