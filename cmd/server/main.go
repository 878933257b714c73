/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commodity transfer ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (file, .env, environment)
  3. Initialize logger
  4. Initialize SQLite store
  5. Build the transfer service and HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: ./config.yaml if present)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/ledger.db"
  LEDGER_LEDGER_DELTA_MODE=independent ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/commodity-ledger/api"
	"github.com/warp/commodity-ledger/config"
	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/logger"
	"github.com/warp/commodity-ledger/store/sqlite"
	"github.com/warp/commodity-ledger/transfer"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger.InitLogger(cfg.Log.Level)

	if err := run(cfg); err != nil {
		logger.L.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	deltas, err := ledger.DeltaCalculatorFor(cfg.Ledger.DeltaMode)
	if err != nil {
		return err
	}
	campaigns := transfer.NewCachedCampaigns(store, cfg.Cache.CampaignTTL)

	svc := transfer.NewService(transfer.Deps{
		Repo:      store,
		Actors:    store,
		Stores:    store,
		Campaigns: campaigns,
		Audit:     store,
		Trail:     store,
	},
		transfer.WithDeltaCalculator(deltas),
		transfer.WithCodeAttempts(cfg.Codes.MaxAttempts),
	)

	handler := api.NewHandler(svc, store, campaigns, store)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimit:      cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("server starting",
			"addr", server.Addr, "db", cfg.Database.Path, "deltaMode", cfg.Ledger.DeltaMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.L.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.L.Info("server stopped")
	return nil
}
