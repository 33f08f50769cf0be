package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/khatirak/whisper.tflite/internal/config"
	"github.com/khatirak/whisper.tflite/internal/engine"
	"github.com/khatirak/whisper.tflite/internal/logging"
	"github.com/khatirak/whisper.tflite/internal/metrics"
	"github.com/khatirak/whisper.tflite/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "whisper-tflite"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	os.Exit(run(*configPath))
}

// run starts the service and blocks until shutdown, returning the exit code
func run(configPath string) int {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger based on configuration
	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("model_path", cfg.Engine.ModelPath),
		slog.Bool("multilingual", cfg.Engine.Multilingual),
		slog.String("asset_path", cfg.Engine.AssetPath()),
		slog.Int("threads", cfg.Engine.Threads),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if !cfg.HTTP.Enabled {
		logger.Error("HTTP API is disabled, nothing to serve (use cmd/transcribe for files)")
		return 1
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	// Load the model before accepting requests
	eng := engine.New(
		engine.WithAssetFiles(cfg.Engine.EnglishAssetPath, cfg.Engine.MultilingualAssetPath),
		engine.WithThreads(cfg.Engine.Threads),
		engine.WithWindowSeconds(cfg.Engine.WindowSeconds),
		engine.WithLogger(logger),
		engine.WithMetrics(appMetrics),
	)
	if err := eng.LoadModel(ctx, cfg.Engine.ModelPath, cfg.Engine.Multilingual); err != nil {
		logger.Error("Failed to load model", slog.String("error", err.Error()))
		return 1
	}

	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, eng, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return 1
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Get final statistics before the model is released
	stats := eng.Stats()
	logger.Info("Final engine statistics",
		slog.Uint64("transcriptions", stats.Transcriptions),
		slog.Uint64("failures", stats.Failures),
		slog.Uint64("missing_tokens", stats.MissingTokens),
	)

	eng.FreeModel()

	logger.Info("Service stopped")
	return 0
}
