package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/task-relay/internal/dashboard"
	"github.com/yourusername/task-relay/internal/ingest"
	"github.com/yourusername/task-relay/internal/journal"
	"github.com/yourusername/task-relay/internal/orchestrator"
	"github.com/yourusername/task-relay/internal/transport"
)

const version = "1.0.0"

func main() {
	config := loadConfig()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if config.Debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting task relay", "version", version, "port", config.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []orchestrator.Option{
		orchestrator.WithMetrics(orchestrator.NewMetrics(prometheus.DefaultRegisterer)),
	}

	// Optional outcome journal
	var outcomes dashboard.OutcomeLister
	var store *journal.Store
	if config.DatabaseURL != "" {
		db, err := sql.Open("postgres", config.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store = journal.NewStore(db, config.JournalBuffer)
		if err := store.Migrate(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		opts = append(opts, orchestrator.WithRecorder(store))
		outcomes = store
		slog.Info("outcome journal enabled")
	}

	coord := orchestrator.NewCoordinator(config.Coordinator, opts...)
	router := transport.NewRouter(coord, config.Transport, transport.NewMetrics(prometheus.DefaultRegisterer))

	mux := http.NewServeMux()
	mux.Handle("/ws", router)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":            "healthy",
			"version":           version,
			"relay_status":      coord.Status(),
			"worker_registered": coord.WorkerRegistered(),
		})
	})
	ingest.NewHandler(coord, config.Ingest).RegisterRoutes(mux)
	dashboard.NewHandler(dashboard.NewService(coord, outcomes, router.Connections)).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    ":" + config.Port,
		Handler: mux,
	}

	go func() {
		if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("router error", "error", err)
			cancel()
		}
	}()

	journalDone := make(chan struct{})
	if store != nil {
		go func() {
			defer close(journalDone)
			store.Run(ctx)
		}()
	} else {
		close(journalDone)
	}

	go func() {
		slog.Info("relay listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	select {
	case <-journalDone:
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded, unwritten outcomes dropped")
	}

	slog.Info("shutdown complete", "pending", coord.Snapshot().PendingCount)
}
