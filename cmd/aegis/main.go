// Aegis API server — exposes the ingest and dashboard HTTP surface and
// bootstraps the event index. Detection runs in aegis-worker.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aegis-siem/aegis/pkg/api"
	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/metrics"
	"github.com/aegis-siem/aegis/pkg/queue"
	"github.com/aegis-siem/aegis/pkg/services"
	"github.com/aegis-siem/aegis/pkg/statestore"
	"github.com/aegis-siem/aegis/pkg/storage"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting Aegis API server",
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect the state store (blocklist and rate-limit gates read it
	// on every request)
	store, err := statestore.New(ctx, cfg.Settings.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing state store", "error", err)
		}
	}()
	slog.Info("Connected to state store")

	// 3. Create the queue on the same connection pool and make sure the
	// consumer group exists before workers come up
	q := queue.New(store.Client())
	if err := q.EnsureGroup(ctx); err != nil {
		slog.Error("Failed to create consumer group", "error", err)
		os.Exit(1)
	}

	// 4. Connect the event index and bootstrap lifecycle policies,
	// templates, and write aliases. Idempotent across replicas.
	esClient, err := storage.NewClient(cfg.Settings.ElasticsearchURL)
	if err != nil {
		slog.Error("Failed to create event index client", "error", err)
		os.Exit(1)
	}
	eventIndex := storage.NewEventIndex(esClient)
	if err := eventIndex.EnsureIndexes(ctx); err != nil {
		// The read surface degrades but ingest still works; workers
		// retry persistence until the index is back.
		slog.Warn("Event index bootstrap failed, continuing", "error", err)
	} else {
		slog.Info("Event index ready")
	}

	// 5. Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	// 6. Domain services
	ingestService := services.NewIngestService(q, store, m, cfg.Settings.RateLimitPerMinute)
	dashboardService := services.NewDashboardService(eventIndex)
	slog.Info("Services initialized")

	// 7. Create HTTP server
	httpServer := api.NewServer(cfg.Settings, ingestService, dashboardService, store, eventIndex, q)
	httpServer.SetMetricsRegistry(registry)

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Aegis API server started successfully",
		"rate_limit_per_minute", cfg.Settings.RateLimitPerMinute)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
