/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock-ledger pipeline server. Handles
  configuration, dependency injection, the nightly schedule, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load JSON config (+ env overrides)
  3. Initialize SQLite store and exclusion log
  4. Build the runner and start the cron scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  JSON config path (default: config.json)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database
  -seed    Rebuild the named store from the epoch, then exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run the server with the default config
  ./server -config=./config.json

  # One-off full rebuild of a store
  ./server -config=./config.json -seed=downtown

SEE ALSO:
  - config/config.go: Configuration schema
  - api/server.go: Router configuration
  - pipeline/runner.go: The run orchestration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/osmart/stock-ledger/api"
	"github.com/osmart/stock-ledger/config"
	"github.com/osmart/stock-ledger/exclusions"
	"github.com/osmart/stock-ledger/pipeline"
	"github.com/osmart/stock-ledger/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.json", "JSON config path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seedStore := flag.String("seed", "", "rebuild this store from the epoch, then exit")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	// Storage
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	exclLog := exclusions.NewLog(cfg.ExclusionsCSV)

	// Runner
	runner := &pipeline.Runner{
		Events:      store,
		Truth:       store,
		Points:      store,
		Checkpoints: store,
		Exclusions:  exclLog,
		Log:         logger,
		AbsMax:      cfg.AbsMax,
		Epoch:       cfg.Epoch,
	}

	sources := make([]pipeline.Source, len(cfg.Stores))
	for i, s := range cfg.Stores {
		sources[i] = pipeline.Source{Name: s.Name, StoreID: s.StoreID}
	}

	// One-off seed mode
	if *seedStore != "" {
		for _, src := range sources {
			if src.Name != *seedStore {
				continue
			}
			res := runner.RunSeed(context.Background(), src)
			if res.Status == pipeline.StatusFailed {
				logger.Fatal().Err(res.Err).Str("store", src.Name).Msg("seed failed")
			}
			logger.Info().
				Str("store", src.Name).
				Int("points", res.PointsWritten).
				Msg("seed complete")
			return
		}
		logger.Fatal().Str("store", *seedStore).Msg("unknown store")
	}

	// Scheduler
	scheduler := pipeline.NewScheduler(runner, sources, cfg.CronSpec, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer scheduler.Stop()

	// HTTP server
	handler := api.NewHandler(runner, sources, exclLog, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
