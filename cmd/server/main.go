package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sharelink/internal/server/api"
	"sharelink/internal/server/config"
	"sharelink/internal/server/database"
	"sharelink/internal/server/events"
	"sharelink/internal/server/service"
	"sharelink/internal/server/storage"
)

// metadataStore is what the server needs from a metadata backend.
type metadataStore interface {
	service.Repository
	api.HealthChecker
}

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"metadata_backend", cfg.MetadataBackend,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"default_expiry", cfg.DefaultExpiry,
		"cleanup_grace", cfg.CleanupGrace,
		"events", cfg.NATSURL != "",
	)

	ctx := context.Background()
	repo, closeRepo, err := openMetadataStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open metadata store", "backend", cfg.MetadataBackend, "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Event publishing is optional
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, cfg.NATSStream)
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		publisher = nc
	}
	defer publisher.Close()

	svc := service.NewAccessService(repo, store, publisher, cfg)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(svc, cfg.CleanupInterval)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, repo, cfg.MaxFileSize)
	e := api.SetupRouter(handler)
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 2 * time.Minute

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}

// openMetadataStore connects the configured backend and returns it with its
// close function.
func openMetadataStore(ctx context.Context, cfg *config.Config) (metadataStore, func(), error) {
	switch cfg.MetadataBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory metadata store; records are lost on restart")
		return database.NewMemoryRepository(), func() {}, nil

	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("database migrations complete")
		return database.NewRepository(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown metadata backend %q (want %q or %q)",
			cfg.MetadataBackend, config.BackendPostgres, config.BackendMemory)
	}
}
