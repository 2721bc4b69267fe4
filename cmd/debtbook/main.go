package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"debtbook/internal/amqp"
	"debtbook/internal/config"
	apphttp "debtbook/internal/http"
	"debtbook/internal/services"
	"debtbook/internal/storage"
	"debtbook/internal/store"
	mem "debtbook/internal/store/memory"
	"debtbook/internal/store/rest"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Choose the ledger store backend (default: memory).
	var ledgerStore store.LedgerStore
	switch cfg.DataBackend {
	case "rest":
		ledgerStore = rest.New(cfg.StoreBaseURL, cfg.StoreAPIKey, nil)
		logger.Info("Initialized REST store backend", "base_url", cfg.StoreBaseURL)
	default:
		ledgerStore = mem.New(nil)
		logger.Info("Initialized memory store backend")
	}

	opts := []services.Option{services.WithPageSize(cfg.StorePageSize)}

	// Snapshot persistence is optional; without it restarts start cold.
	if cfg.SQLiteDBPath != "" {
		repo, err := storage.NewSnapshotRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize snapshot repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		opts = append(opts, services.WithPersister(repo))
		logger.Info("Snapshot persistence enabled", "path", cfg.SQLiteDBPath)
	}

	// Change notifications are optional too.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		opts = append(opts, services.WithPublisher(amqpClient))
		logger.Info("Change notifications enabled", "exchange", cfg.AMQPExchange)
	}

	svc := services.NewLedgerService(ledgerStore, cfg.SnapshotTTL, opts...)

	srv := apphttp.NewServer(":"+cfg.Port, svc)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting debtbook server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
