package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultTicketSecret = "change_me_ticket_secret_minimum_32_chars"

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Application
	AppEnv      string
	LogLevel    string
	MetricsAddr string

	// Attendance tickets
	TicketSecret string
	TicketTTL    time.Duration

	// Scan throttling
	ScanRateLimit   int
	VerifyRateLimit int
	ScanRateWindow  time.Duration

	// Locking
	LockRetryAttempts int
	LockRetryBackoff  time.Duration

	// Activity fan-out
	KafkaBrokers       []string
	KafkaActivityTopic string
	OutboxBatchSize    int
	OutboxInterval     time.Duration

	// Reputation
	ReputationSweepInterval time.Duration
	ReputationSweepBatch    int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "eventcore"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "eventcore"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		TicketSecret: getEnv("TICKET_SECRET_KEY", ""),
		TicketTTL:    getEnvDuration("TICKET_TTL", 24*time.Hour),

		ScanRateLimit:   getEnvInt("SCAN_RATE_LIMIT", 60),
		VerifyRateLimit: getEnvInt("VERIFY_RATE_LIMIT", 30),
		ScanRateWindow:  getEnvDuration("SCAN_RATE_WINDOW", time.Minute),

		LockRetryAttempts: getEnvInt("LOCK_RETRY_ATTEMPTS", 3),
		LockRetryBackoff:  getEnvDuration("LOCK_RETRY_BACKOFF", 50*time.Millisecond),

		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaActivityTopic: getEnv("KAFKA_ACTIVITY_TOPIC", "domain-activities"),
		OutboxBatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 200),
		OutboxInterval:     getEnvDuration("OUTBOX_INTERVAL", time.Second),

		ReputationSweepInterval: getEnvDuration("REPUTATION_SWEEP_INTERVAL", 5*time.Minute),
		ReputationSweepBatch:    getEnvInt("REPUTATION_SWEEP_BATCH", 500),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.TicketSecret == "" {
		return fmt.Errorf("TICKET_SECRET_KEY is required")
	}
	if len(c.TicketSecret) < 32 {
		return fmt.Errorf("TICKET_SECRET_KEY must be at least 32 characters")
	}
	if c.LockRetryAttempts < 1 {
		return fmt.Errorf("LOCK_RETRY_ATTEMPTS must be at least 1")
	}
	if c.OutboxBatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) ValidateProductionSecurity() error {
	if c.AppEnv != "production" {
		return nil
	}

	if c.DBSSLMode != "require" {
		return fmt.Errorf("DB_SSLMODE must be 'require' in production")
	}
	if c.TicketSecret == defaultTicketSecret {
		return fmt.Errorf("TICKET_SECRET_KEY must be changed from default in production")
	}

	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// RelayEnabled reports whether activities should be relayed to Kafka.
func (c *Config) RelayEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
