package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Queue    QueueConfig
	API      APIConfig
	Worker   WorkerConfig
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// QueueConfig holds queue configuration (Redis)
type QueueConfig struct {
	RedisURL  string
	QueueName string
}

// APIConfig holds API server configuration
type APIConfig struct {
	Port int
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	Concurrency     int
	BatchInterval   time.Duration
	StuckTimeout    time.Duration
	SweepSchedule   string
	MockSendEnabled bool
}

// Load reads configuration from the environment. A local .env file is
// applied first when present; real env vars win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	workerConcurrency, err := strconv.Atoi(getEnv("WORKER_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	batchInterval, err := time.ParseDuration(getEnv("BATCH_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_INTERVAL: %w", err)
	}

	stuckTimeout, err := time.ParseDuration(getEnv("STUCK_SENDING_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid STUCK_SENDING_TIMEOUT: %w", err)
	}

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "campaign_engine"),
			Password: getEnv("DB_PASSWORD", "campaign_engine"),
			DBName:   getEnv("DB_NAME", "campaign_engine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Queue: QueueConfig{
			RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379/0"),
			QueueName: getEnv("QUEUE_NAME", "campaign_batches"),
		},
		API: APIConfig{
			Port: apiPort,
		},
		Worker: WorkerConfig{
			Concurrency:     workerConcurrency,
			BatchInterval:   batchInterval,
			StuckTimeout:    stuckTimeout,
			SweepSchedule:   getEnv("SWEEP_SCHEDULE", "@every 1m"),
			MockSendEnabled: getEnv("MOCK_SEND", "") == "true",
		},
	}, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
