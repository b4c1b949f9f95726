// Package config loads runtime configuration for the admission and
// worker services from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every option the admission API and worker processes
// read at startup.
type Config struct {
	Port string

	QueueDBPath    string
	ObserverDBPath string

	PollIntervalMs         int
	BaseDelayMs            int
	MaxRetries             int
	DefaultMetricsWindowMs int64
	FailureRateThreshold   float64
	TimestampPadLength     int
	WorkerConcurrency      int

	ResearchRateLimitPerSec float64
	ResearchRateBurst       int

	HTTPReadTimeoutMs  int
	HTTPWriteTimeoutMs int
	WikipediaBaseURL   string
}

// Load reads configuration from environment variables, falling back to
// documented defaults for anything unset.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		QueueDBPath:    getEnv("QUEUE_DB_PATH", "data/queue"),
		ObserverDBPath: getEnv("OBSERVER_DB_PATH", "data/observer"),

		PollIntervalMs:         getEnvInt("POLL_INTERVAL_MS", 250),
		BaseDelayMs:            getEnvInt("BASE_DELAY_MS", 1000),
		MaxRetries:             getEnvInt("MAX_RETRIES", 5),
		DefaultMetricsWindowMs: getEnvInt64("DEFAULT_METRICS_WINDOW_MS", int64(3*time.Hour/time.Millisecond)),
		FailureRateThreshold:   getEnvFloat("FAILURE_RATE_THRESHOLD", 0.5),
		TimestampPadLength:     getEnvInt("TIMESTAMP_PAD_LENGTH", 13),
		WorkerConcurrency:      getEnvInt("WORKER_CONCURRENCY", 4),

		ResearchRateLimitPerSec: getEnvFloat("RESEARCH_RATE_LIMIT_PER_SEC", 5),
		ResearchRateBurst:       getEnvInt("RESEARCH_RATE_BURST", 5),

		HTTPReadTimeoutMs:  getEnvInt("HTTP_READ_TIMEOUT_MS", 5000),
		HTTPWriteTimeoutMs: getEnvInt("HTTP_WRITE_TIMEOUT_MS", 10000),
		WikipediaBaseURL:   getEnv("WIKIPEDIA_BASE_URL", "https://en.wikipedia.org/w/api.php"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
