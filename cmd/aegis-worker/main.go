// Aegis worker — runs the detection pipeline consumers against the event
// stream: normalize, enrich, rules, anomaly scoring, correlation,
// response, and persistence.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-siem/aegis/pkg/anomaly"
	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/correlation"
	"github.com/aegis-siem/aegis/pkg/enrichment"
	"github.com/aegis-siem/aegis/pkg/metrics"
	"github.com/aegis-siem/aegis/pkg/normalization"
	"github.com/aegis-siem/aegis/pkg/pipeline"
	"github.com/aegis-siem/aegis/pkg/queue"
	"github.com/aegis-siem/aegis/pkg/response"
	"github.com/aegis-siem/aegis/pkg/rules"
	"github.com/aegis-siem/aegis/pkg/statestore"
	"github.com/aegis-siem/aegis/pkg/storage"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
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

	podID := resolvePodID()

	slog.Info("Starting Aegis worker",
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect the state store (detection counters, phase flags,
	// blocklist all live there)
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

	// 3. Connect the event index
	esClient, err := storage.NewClient(cfg.Settings.ElasticsearchURL)
	if err != nil {
		slog.Error("Failed to create event index client", "error", err)
		os.Exit(1)
	}
	eventIndex := storage.NewEventIndex(esClient)

	// 4. Build the pipeline stages. A missing anomaly model disables
	// scoring; everything else is required.
	m := metrics.New(prometheus.NewRegistry())
	stages := pipeline.New(
		normalization.New(),
		enrichment.New(cfg.Settings),
		rules.NewEngine(cfg.Rules, store),
		anomaly.New(cfg.Settings.ModelPath, store),
		correlation.New(store),
		response.New(cfg.Response, store),
		eventIndex,
		m,
	)
	slog.Info("Pipeline stages initialized",
		"brute_force_threshold", cfg.Rules.SSHBruteForce.Threshold,
		"block_threshold", cfg.Response.Policy.BlockThreshold)

	// 5. Start the worker pool
	q := queue.New(store.Client())
	workerPool := queue.NewWorkerPool(podID, q, cfg.Queue, stages)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	slog.Info("Aegis worker started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 6. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 7. Graceful shutdown: finish the in-flight batch, leave the rest
	// pending for the next replica to reclaim
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — pending events will be reclaimed")
	}

	slog.Info("Shutdown complete")
}
