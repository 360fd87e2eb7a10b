// Package main is the entry point for the Strongroom S3-compatible object
// storage server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/strongroom/strongroom/internal/config"
	"github.com/strongroom/strongroom/internal/logging"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/metrics"
	"github.com/strongroom/strongroom/internal/server"
	"github.com/strongroom/strongroom/internal/storage"
)

func main() {
	configPath := flag.String("config", "strongroom.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 3000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "log format: text, json")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config and environment.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	// Open the metadata store.
	var metaStore metadata.MetadataStore
	switch cfg.Metadata.Engine {
	case "postgres":
		pg, pgErr := metadata.NewPostgresStore(cfg.Metadata.Postgres.DSN())
		if pgErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", pgErr)
			os.Exit(1)
		}
		metaStore = pg
		slog.Info("Metadata store initialized", "engine", "postgres",
			"host", cfg.Metadata.Postgres.Host, "db", cfg.Metadata.Postgres.Name)
	default:
		dbPath := cfg.Metadata.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create metadata directory: %v\n", err)
			os.Exit(1)
		}
		sq, sqErr := metadata.NewSQLiteStore(dbPath)
		if sqErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", sqErr)
			os.Exit(1)
		}
		metaStore = sq
		slog.Info("Metadata store initialized", "engine", "sqlite", "path", dbPath)
	}
	defer metaStore.Close()

	// Seed the bootstrap credential (idempotent).
	if err := seedBootstrapKey(metaStore, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed credentials: %v\n", err)
		os.Exit(1)
	}

	// Initialize the filesystem store.
	store, err := storage.NewLocalStore(cfg.Storage.RootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage: %v\n", err)
		os.Exit(1)
	}
	// Clean orphan temp files from incomplete writes.
	if err := store.CleanTempFiles(); err != nil {
		slog.Warn("Failed to clean temp files", "error", err)
	}
	slog.Info("Storage initialized", "root", store.RootDir)

	srv, err := server.New(cfg, metaStore, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Strongroom listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// seedBootstrapKey creates the configured bootstrap credential if it does
// not already exist, so a fresh deployment can authenticate before the admin
// surface has been used. Runs on every startup.
func seedBootstrapKey(store metadata.MetadataStore, cfg *config.Config) error {
	if cfg.Auth.AccessKey == "" {
		return nil
	}

	ctx := context.Background()

	existing, err := store.GetAccessKey(ctx, cfg.Auth.AccessKey)
	if err != nil {
		return fmt.Errorf("checking bootstrap credential: %w", err)
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	key := &metadata.AccessKeyRecord{
		AccessKeyID: cfg.Auth.AccessKey,
		SecretKey:   cfg.Auth.SecretKey,
		DisplayName: "bootstrap",
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.PutAccessKey(ctx, key); err != nil {
		return fmt.Errorf("seeding bootstrap credential: %w", err)
	}
	slog.Info("Seeded bootstrap credential", "access_key", cfg.Auth.AccessKey)
	return nil
}
