package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"transcript-analyzer/internal/config"
	"transcript-analyzer/internal/llm"
	"transcript-analyzer/internal/pipeline"
	"transcript-analyzer/internal/schema"
	"transcript-analyzer/internal/storage"
	"transcript-analyzer/internal/store"
	"transcript-analyzer/internal/telemetry"
	workerloop "transcript-analyzer/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using process environment")
	}
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "err", err)
		os.Exit(1)
	}

	objects, err := storage.NewS3Store(ctx, storage.Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		logger.Error("init object storage", "err", err)
		os.Exit(1)
	}

	var provider llm.Provider
	switch cfg.Provider {
	case "ollama":
		provider = llm.NewOllamaClient(cfg.ProviderBaseURL)
	default:
		provider = llm.NewOpenAIClient(cfg.ProviderAPIKey, cfg.ProviderBaseURL)
	}
	adapter := llm.NewAdapter(provider, llm.ClassifyHTTP, schema.EmbeddedSource, llm.AdapterOptions{
		Model:               cfg.ProviderModel,
		Timeout:             cfg.ProviderTimeout,
		ActivePromptVersion: cfg.ActivePromptVersion,
		ActiveSchemaVersion: cfg.ActiveSchemaVersion,
	})

	validator := schema.NewValidator(schema.EmbeddedSource)
	processor := pipeline.NewProcessor(st, objects, adapter, validator, logger)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "worker"
		}
		workerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	w := workerloop.New(st, processor, workerloop.Options{
		WorkerID:     workerID,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.WorkerPollInterval,
		Logger:       logger,
	})

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	// The signal requests a drain, not a cancellation: Stop lets the poll
	// loop exit while in-flight jobs run to completion on a live context.
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, draining in-flight jobs")
		w.Stop()
	}()

	logger.Info("worker started",
		"worker_id", workerID,
		"concurrency", cfg.Concurrency,
		"provider", cfg.Provider,
		"prompt_version", cfg.ActivePromptVersion,
		"schema_version", cfg.ActiveSchemaVersion)
	if err := w.Run(context.Background()); err != nil && err != context.Canceled {
		logger.Error("worker stopped", "err", err)
	}
	logger.Info("worker drained")
}
