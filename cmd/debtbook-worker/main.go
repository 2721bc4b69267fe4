package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"debtbook/internal/amqp"
	"debtbook/internal/config"
	"debtbook/internal/services"
	"debtbook/internal/storage"
	"debtbook/internal/store"
	mem "debtbook/internal/store/memory"
	"debtbook/internal/store/rest"
	"debtbook/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting debtbook-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// The worker exists to keep persisted snapshots warm, so the snapshot
	// repository is mandatory here.
	repo, err := storage.NewSnapshotRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize snapshot repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var ledgerStore store.LedgerStore
	switch cfg.DataBackend {
	case "rest":
		ledgerStore = rest.New(cfg.StoreBaseURL, cfg.StoreAPIKey, nil)
		logger.Info("Initialized REST store backend", "base_url", cfg.StoreBaseURL)
	default:
		ledgerStore = mem.New(nil)
		logger.Info("Initialized memory store backend")
	}

	svc := services.NewLedgerService(ledgerStore, cfg.SnapshotTTL,
		services.WithPageSize(cfg.StorePageSize),
		services.WithPersister(repo))

	refreshWorker := worker.NewRefreshWorker(svc, repo, cfg.RefreshInterval)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// AMQP consumption is optional; without it the worker only sweeps on
	// the timer.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			if err := amqpClient.ConsumeLedgerChanges(ctx, func(msg *amqp.LedgerChangedMessage) error {
				return refreshWorker.HandleChangeMessage(ctx, msg)
			}); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("Message consumption failed", "error", err)
				}
				cancel()
			}
		}()
		logger.Info("Consuming ledger change messages", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Skipping AMQP message consumption - no URL configured")
	}

	go func() {
		if err := refreshWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Refresh worker stopped", "error", err)
			cancel()
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give in-flight refreshes a moment to finish.
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
