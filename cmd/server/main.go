/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the expense ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
 1. Load configuration (defaults, config.yaml, .env, LEDGER_* env)
 2. Apply command-line flags on top
 3. Open the store selected by store.driver
 4. Connect Redis when redis.addr is set (locks and rate cache)
 5. Build the series service, API handler and router
 6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: ./config.yaml when present)
  -port    HTTP server port (overrides server.port)
  -db      Store DSN (overrides store.dsn)
           Use ":memory:" with the sqlite driver for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close store and Redis connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against PostgreSQL with Redis locking
  LEDGER_STORE_DRIVER=postgres LEDGER_STORE_DSN="host=... dbname=ledger" \
  LEDGER_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - deps.go: Store, lock and rate source construction
  - config: Configuration sources
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/expense-ledger/api"
	"github.com/warp/expense-ledger/config"
	"github.com/warp/expense-ledger/series"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dsn := flag.String("db", "", "Store DSN")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "db":
			cfg.Store.DSN = *dsn
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := config.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()

	// Redis, locks and rates
	rdb, err := openRedis(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}
	converter, err := newConverter(cfg, rdb, log)
	if err != nil {
		return fmt.Errorf("initialize exchange rates: %w", err)
	}

	svc := series.New(store,
		series.WithLocker(newLocker(cfg.Redis, rdb)),
		series.WithConverter(converter),
		series.WithLogger(log.WithField("module", "series")),
	)

	// Create router
	handler := api.NewHandler(svc, log.WithField("module", "api"))
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	failed := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.Server.Port,
			"driver": cfg.Store.Driver,
			"redis":  rdb != nil,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-failed:
		return err
	case <-quit:
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
