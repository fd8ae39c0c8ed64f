package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Queue backend (Redis-compatible)
	QueueURL  string
	QueueUser string
	QueuePass string

	// Credential vault
	EncryptionKey string

	// OAuth - Microsoft
	MSClientID     string
	MSClientSecret string
	MSTenantID     string
	MSRedirectURL  string

	// JWT
	JWTSecret string
	JWTExpiry time.Duration

	// IMAP TLS
	CertsDir              string
	TLSRejectUnauthorized bool

	// Attachment sink
	BlobSinkURL string

	// Client
	ClientURL string

	// Worker
	WorkerID        string
	WorkerMax       int
	WorkerQueueSize int

	// Scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
}

// generateWorkerID creates a unique worker ID using hostname and PID.
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// Load reads configuration from the environment and validates the parts
// that must be present before anything else starts.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		QueueURL:  getEnv("QUEUE_URL", ""),
		QueueUser: getEnv("QUEUE_USER", ""),
		QueuePass: getEnv("QUEUE_PASS", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		MSClientID:     getEnv("MS_CLIENT_ID", ""),
		MSClientSecret: getEnv("MS_CLIENT_SECRET", ""),
		MSTenantID:     getEnv("MS_TENANT_ID", "common"),
		MSRedirectURL:  getEnv("MS_REDIRECT_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTExpiry: getEnvDuration("JWT_EXPIRY", time.Hour),

		CertsDir:              getEnv("CERTS_DIR", ""),
		TLSRejectUnauthorized: getEnvBool("TLS_REJECT_UNAUTHORIZED", true),

		BlobSinkURL: getEnv("BLOB_SINK_URL", ""),

		ClientURL: getEnv("CLIENT_URL", "http://localhost:3000"),

		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:       getEnvInt("WORKER_MAX", 4),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", 5*time.Minute),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the startup invariants. A weak encryption key is a
// fatal configuration error, never a warning.
func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.QueueURL == "" {
		return fmt.Errorf("QUEUE_URL is required")
	}
	if len(c.EncryptionKey) < 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be at least 32 characters")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are treated as seconds.
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
