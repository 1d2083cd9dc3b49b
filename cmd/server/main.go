/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Create API handler and start the outbox worker
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -driver  sqlite | postgres
  -db      SQLite database path, ":memory:" allowed
  -dsn     PostgreSQL connection string

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the outbox worker, letting a running batch finish
  4. Close database connection

EXAMPLES:
  ./server -db=":memory:"
  DB_DRIVER=postgres DATABASE_URL=postgres://fees@localhost/fees ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/worker.go: Outbox worker
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/logging"
	"github.com/warp/fee-engine/store/postgres"
	"github.com/warp/fee-engine/store/sqlite"
	"go.uber.org/zap"
)

// backend is a store the server can close on shutdown.
type backend interface {
	api.Backend
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Driver, "driver", cfg.Driver, "Store driver: sqlite or postgres")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.DatabaseURL, "dsn", cfg.DatabaseURL, "PostgreSQL connection string")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, !cfg.IsProduction())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, logger)
	worker := handler.Worker
	worker.Schedule = cfg.OutboxSchedule
	worker.BatchSize = cfg.OutboxBatchSize
	worker.MaxAttempts = cfg.OutboxMaxAttempts
	if !cfg.IsProduction() {
		worker.Provisioner = &api.SandboxProvisioner{}
	}
	if err := worker.Start(); err != nil {
		return err
	}
	defer worker.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("driver", cfg.Driver),
			zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.Config) (backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.DBPath)
	}
}
