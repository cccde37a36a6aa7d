// Package config provides configuration management for the profile validator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Worker   WorkerConfig
	Files    FilesConfig
	Queue    QueueConfig
	Probe    ProbeConfig
	Upstream UpstreamConfig
	Cooldown CooldownConfig
	Redis    RedisConfig
	API      APIConfig
	Logging  LoggingConfig
}

// WorkerConfig holds coordinator configuration
type WorkerConfig struct {
	InstanceID            string
	PollInterval          time.Duration
	ClaimBatchSize        int
	DeferredSweepInterval time.Duration
}

// FilesConfig holds state file locations
type FilesConfig struct {
	CheckStorePath string
	CooldownPath   string
}

// QueueConfig holds queue service configuration
type QueueConfig struct {
	BaseURL   string
	APIKey    string
	QueueName string
	Timeout   time.Duration
}

// ProbeConfig holds API service existence probe configuration
type ProbeConfig struct {
	BaseURL string
	Timeout time.Duration
}

// UpstreamConfig holds upstream endpoint configuration
type UpstreamConfig struct {
	BaseURL           string
	APIKey            string
	DefaultTimeout    time.Duration
	InventoryTimeout  time.Duration
	RequestsPerSecond float64
}

// CooldownConfig holds cooldown controller configuration
type CooldownConfig struct {
	BackoffSequence []int // minutes per 429 backoff level
	ConnectionReset time.Duration
	Timeout         time.Duration
	DNSFailure      time.Duration
}

// RedisConfig holds probe cache configuration. An empty host disables the cache.
type RedisConfig struct {
	Host          string
	Port          string
	Password      string
	DB            int
	ProbeCacheTTL time.Duration
}

// APIConfig holds status API server configuration
type APIConfig struct {
	Enabled bool
	Host    string
	Port    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Worker: WorkerConfig{
			InstanceID:            getEnv("INSTANCE_ID", ""),
			PollInterval:          getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			ClaimBatchSize:        getEnvAsInt("CLAIM_BATCH_SIZE", 5),
			DeferredSweepInterval: getEnvAsDuration("DEFERRED_SWEEP_INTERVAL", 5*time.Minute),
		},
		Files: FilesConfig{
			CheckStorePath: getEnv("CHECK_STORE_PATH", "data/check_store.json"),
			CooldownPath:   getEnv("COOLDOWN_PATH", "data/endpoint_cooldowns.json"),
		},
		Queue: QueueConfig{
			BaseURL:   getEnv("QUEUE_BASE_URL", ""),
			APIKey:    getEnv("QUEUE_API_KEY", ""),
			QueueName: getEnv("QUEUE_NAME", "validator"),
			Timeout:   getEnvAsDuration("QUEUE_TIMEOUT", 30*time.Second),
		},
		Probe: ProbeConfig{
			BaseURL: getEnv("PROBE_BASE_URL", ""),
			Timeout: getEnvAsDuration("PROBE_TIMEOUT", 15*time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL:           getEnv("UPSTREAM_BASE_URL", "https://api.steampowered.com"),
			APIKey:            getEnv("UPSTREAM_API_KEY", ""),
			DefaultTimeout:    getEnvAsDuration("UPSTREAM_TIMEOUT", 15*time.Second),
			InventoryTimeout:  getEnvAsDuration("UPSTREAM_INVENTORY_TIMEOUT", 25*time.Second),
			RequestsPerSecond: getEnvAsFloat("UPSTREAM_REQUESTS_PER_SECOND", 1.0),
		},
		Cooldown: CooldownConfig{
			BackoffSequence: getEnvAsIntSlice("BACKOFF_SEQUENCE", nil),
			ConnectionReset: getEnvAsDuration("COOLDOWN_CONNECTION_RESET", 5*time.Minute),
			Timeout:         getEnvAsDuration("COOLDOWN_TIMEOUT", 2*time.Minute),
			DNSFailure:      getEnvAsDuration("COOLDOWN_DNS_FAILURE", 10*time.Minute),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", ""),
			Port:          getEnv("REDIS_PORT", "6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ProbeCacheTTL: getEnvAsDuration("PROBE_CACHE_TTL", 10*time.Minute),
		},
		API: APIConfig{
			Enabled: getEnvAsBool("STATUS_API_ENABLED", false),
			Host:    getEnv("STATUS_API_HOST", "0.0.0.0"),
			Port:    getEnv("STATUS_API_PORT", "8090"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// A stable instance identity is required by the queue protocol; generate
	// one per process when not pinned by the environment.
	if config.Worker.InstanceID == "" {
		config.Worker.InstanceID = "validator-" + uuid.NewString()
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsIntSlice gets an environment variable as a comma-separated list of
// integers with a default value
func getEnvAsIntSlice(key string, defaultValue []int) []int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		values = append(values, value)
	}

	if len(values) == 0 {
		return defaultValue
	}
	return values
}
