/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the deal request lifecycle server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML file, flags)
  2. Initialize the record store (sqlite or memory)
  3. Wire metrics, notifier, lifecycle service
  4. Create API handler, router and delinquency scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config          YAML config file (flags set explicitly override it)
  -port            HTTP server port (default: 8080)
  -store           Record store driver: memory | sqlite (default: sqlite)
  -db              SQLite database path (default: deals.db)
                   Use ":memory:" for in-memory database
  -sweep-interval  Delinquency sweep interval, 0 disables (default: 15m)
  -notify-queue    Notification queue size (default: 256)

CONFIG FILE:
  port: 8080
  store:
    driver: sqlite
    path: ./data/deals.db
  cors_origins: ["http://localhost:5173"]
  sweep:
    enabled: true
    interval: 10m
  notifier:
    queue_size: 512
  disable_history: false

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the delinquency scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Drain the notification queue
  5. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/warp/deal-engine/api"
	"github.com/warp/deal-engine/deals"
	"github.com/warp/deal-engine/generic"
	"github.com/warp/deal-engine/generic/store"
	"github.com/warp/deal-engine/store/sqlite"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	records, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer closeStore()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := deals.MustNewMetrics(reg)

	// Notifications are delivered off the request path
	notifier := deals.NewAsyncNotifier(deals.LogNotifier{}, cfg.Notifier.QueueSize, log.Default(), metrics)
	notifier.Start()

	// Lifecycle
	catalog := deals.NewDealCatalog(records)
	accounts := deals.NewAccountDirectory(records)
	svc := deals.NewService(records, catalog, accounts, notifier,
		deals.WithMetrics(metrics),
		deals.WithHistory(!cfg.DisableHistory),
	)

	// Initialize handler
	handler := api.NewHandler(records, svc, catalog, accounts)
	handler.Gatherer = reg

	// Create router
	router := api.NewRouter(handler, cfg.CORSOrigins...)

	scheduler := api.NewDelinquencyScheduler(handler)
	scheduler.CheckInterval = cfg.Sweep.Interval
	scheduler.Enabled = cfg.Sweep.Enabled
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d (store: %s)", cfg.Port, cfg.Store.Driver)
		log.Printf("API available at http://localhost:%d/api, metrics at /metrics", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	notifier.Stop()

	log.Println("Server stopped")
}

func openStore(cfg Config) (generic.RecordStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "sqlite":
		s, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
