package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the dashboard service
type Config struct {
	// Server configuration
	Port string

	// Backend configuration
	BackendURL     string
	DetectionMode  string
	BackendTimeout time.Duration

	// Records polling
	RecordsPollInterval time.Duration

	// Detection session timings
	StageStartingDelay      time.Duration
	StageScanningDelay      time.Duration
	StageProcessingDelay    time.Duration
	AnalyzeDelay            time.Duration
	NoDetectionDismissDelay time.Duration
	FailureDismissDelay     time.Duration

	// Session limits
	SessionIdleTimeout      time.Duration
	MaxViewsPerClient       int
	MaxConcurrentDetections int

	// Rate limiting
	RateLimitPerHour int
	RateLimitBurst   int

	// Details hand-off
	DetailsTTL time.Duration

	// RabbitMQ configuration
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:5000"), "/"),
		DetectionMode:  getEnv("DETECTION_MODE", "real-time-auto-stop"),
		BackendTimeout: getDurationEnv("BACKEND_TIMEOUT", 30*time.Second),

		RecordsPollInterval: getDurationEnv("RECORDS_POLL_INTERVAL", 3*time.Second),

		StageStartingDelay:      getDurationEnv("STAGE_STARTING_DELAY", 500*time.Millisecond),
		StageScanningDelay:      getDurationEnv("STAGE_SCANNING_DELAY", time.Second),
		StageProcessingDelay:    getDurationEnv("STAGE_PROCESSING_DELAY", 1500*time.Millisecond),
		AnalyzeDelay:            getDurationEnv("ANALYZE_DELAY", 500*time.Millisecond),
		NoDetectionDismissDelay: getDurationEnv("NO_DETECTION_DISMISS_DELAY", 3*time.Second),
		FailureDismissDelay:     getDurationEnv("FAILURE_DISMISS_DELAY", 4*time.Second),

		SessionIdleTimeout:      getDurationEnv("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		MaxViewsPerClient:       getPositiveIntEnv("MAX_VIEWS_PER_CLIENT", 10),
		MaxConcurrentDetections: getPositiveIntEnv("MAX_CONCURRENT_DETECTIONS", 1),

		RateLimitPerHour: getPositiveIntEnv("RATE_LIMIT_PER_HOUR", 600),
		RateLimitBurst:   getPositiveIntEnv("RATE_LIMIT_BURST", 20),

		DetailsTTL: getDurationEnv("DETAILS_TTL", 30*time.Minute),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "bottle-detections"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "detection.confirmed"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

// getPositiveIntEnv gets a positive integer environment variable or returns a default value
func getPositiveIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}
