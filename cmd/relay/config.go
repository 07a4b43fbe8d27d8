package main

import (
	"fmt"
	"os"
	"time"

	"github.com/yourusername/task-relay/internal/ingest"
	"github.com/yourusername/task-relay/internal/orchestrator"
	"github.com/yourusername/task-relay/internal/transport"
)

// appConfig gathers every environment-driven setting
type appConfig struct {
	Port            string
	Debug           bool
	DatabaseURL     string
	JournalBuffer   int
	ShutdownTimeout time.Duration

	Coordinator *orchestrator.Config
	Transport   *transport.Config
	Ingest      *ingest.Config
}

func loadConfig() *appConfig {
	coordinator := orchestrator.DefaultConfig()
	coordinator.RequeueOnWorkerLoss = getEnvBool("REQUEUE_ON_WORKER_LOSS", coordinator.RequeueOnWorkerLoss)
	coordinator.HistoryLimit = getEnvIntAtLeast("HISTORY_LIMIT", coordinator.HistoryLimit, 0)
	coordinator.RecentMessages = getEnvIntAtLeast("RECENT_MESSAGES", coordinator.RecentMessages, 0)

	conns := transport.DefaultConfig()
	conns.SendBuffer = getEnvIntAtLeast("SEND_BUFFER", conns.SendBuffer, 1)
	conns.MaxMessageSize = int64(getEnvIntAtLeast("MAX_MESSAGE_BYTES", int(conns.MaxMessageSize), 1))

	ingestion := ingest.DefaultConfig()
	ingestion.MaxUploadBytes = int64(getEnvIntAtLeast("MAX_UPLOAD_BYTES", int(ingestion.MaxUploadBytes), 1))
	ingestion.RequireLiveWorker = getEnvBool("REQUIRE_LIVE_WORKER", ingestion.RequireLiveWorker)

	return &appConfig{
		Port:            getEnv("PORT", "8000"),
		Debug:           getEnvBool("DEBUG", false),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JournalBuffer:   getEnvIntAtLeast("JOURNAL_BUFFER", 256, 0),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Coordinator:     coordinator,
		Transport:       conns,
		Ingest:          ingestion,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvIntAtLeast is getEnvInt with values below min replaced by the default
func getEnvIntAtLeast(key string, defaultValue, min int) int {
	if i := getEnvInt(key, defaultValue); i >= min {
		return i
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
