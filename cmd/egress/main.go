package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cornjacket/event-egress/internal/backup"
	"github.com/cornjacket/event-egress/internal/clock"
	"github.com/cornjacket/event-egress/internal/config"
	"github.com/cornjacket/event-egress/internal/infra/postgres"
	"github.com/cornjacket/event-egress/internal/infra/redpanda"
	"github.com/cornjacket/event-egress/internal/publisher"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("starting event egress",
		"topic", cfg.Topic,
		"poll_interval", cfg.PollInterval,
		"max_retries", cfg.MaxRetries,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply schema migrations before anything touches the tables
	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	pg, err := postgres.NewClient(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	brokers := strings.Split(cfg.RedpandaBrokers, ",")
	producer, err := redpanda.NewProducer(brokers, logger)
	if err != nil {
		slog.Error("failed to create Redpanda producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// Backup chain: dead-letter table first, filesystem as the fallback
	fsStrategy, err := backup.NewFilesystemStrategy(cfg.BackupDir, cfg.Production, logger)
	if err != nil {
		slog.Error("failed to create filesystem backup", "error", err)
		os.Exit(1)
	}
	chain := backup.NewChain(logger,
		postgres.NewDLQStrategy(pg.Pool(), logger),
		fsStrategy,
	)

	repo := postgres.NewOutboxRepo(pg.Pool(), logger)

	// Dedicated LISTEN connection (not from pool — held open indefinitely)
	listenConn, err := pgx.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create LISTEN connection", "error", err)
		os.Exit(1)
	}

	pub := publisher.New(pg.Pool(), repo, producer, chain, listenConn, publisher.Config{
		Topic:            cfg.Topic,
		BatchSize:        cfg.BatchSize,
		MaxRetries:       cfg.MaxRetries,
		PollInterval:     cfg.PollInterval,
		RetryBackoffBase: cfg.RetryBackoffBase,
		RetryBackoffCap:  cfg.RetryBackoffCap,
	}, clock.RealClock{}, logger)

	cleaner := publisher.NewCleaner(repo, publisher.CleanerConfig{
		Interval:  cfg.CleanupInterval,
		Retention: cfg.Retention,
		BatchSize: cfg.CleanupBatchSize,
	}, clock.RealClock{}, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := pub.Run(ctx); err != nil {
			slog.Error("publisher stopped with error", "error", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := cleaner.Run(ctx); err != nil {
			slog.Error("cleaner stopped with error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled")
	}

	// Graceful shutdown: stop issuing new cycles, let the in-flight batch finish
	slog.Info("shutting down...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Error("shutdown timed out")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := listenConn.Close(closeCtx); err != nil {
		slog.Error("failed to close LISTEN connection", "error", err)
	}

	slog.Info("event egress stopped")
}

// newLogger creates a structured logger based on configuration.
func newLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
