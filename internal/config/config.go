// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all daemon configuration
type Config struct {
	// Runtime
	Environment string

	// Backend endpoints
	APIBaseURL string
	SocketURL  string

	// Session
	AuthToken string

	// Local bridge
	BridgeAddr string

	// Optional mirrors
	ArchiveDSN string // Postgres DSN, empty disables the archive
	RedisURL   string // empty disables the resume-state store

	// Fetch tuning
	ConversationPageSize int
	MessagePageSize      int
	RequestTimeout       time.Duration

	// Socket tuning
	WriteWait time.Duration
	PongWait  time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		APIBaseURL: getEnv("TASKCHAT_API_URL", "http://localhost:8080"),
		SocketURL:  getEnv("TASKCHAT_SOCKET_URL", "ws://localhost:8080/ws"),

		AuthToken: getEnv("TASKCHAT_AUTH_TOKEN", ""),

		BridgeAddr: getEnv("BRIDGE_ADDR", "127.0.0.1:7350"),

		ArchiveDSN: getEnv("ARCHIVE_DATABASE_URL", ""),
		RedisURL:   getEnv("REDIS_URL", ""),

		ConversationPageSize: getEnvInt("CONVERSATION_PAGE_SIZE", 20),
		MessagePageSize:      getEnvInt("MESSAGE_PAGE_SIZE", 50),
		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT", "15s"),

		WriteWait: getEnvDuration("SOCKET_WRITE_WAIT", "10s"),
		PongWait:  getEnvDuration("SOCKET_PONG_WAIT", "60s"),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}

	if c.SocketURL == "" {
		return fmt.Errorf("socket URL is required")
	}

	if c.AuthToken == "" && c.Environment == "production" {
		return fmt.Errorf("auth token is required in production")
	}

	if c.ConversationPageSize < 1 || c.ConversationPageSize > 100 {
		return fmt.Errorf("conversation page size must be between 1 and 100")
	}

	if c.MessagePageSize < 1 || c.MessagePageSize > 200 {
		return fmt.Errorf("message page size must be between 1 and 200")
	}

	if c.PongWait <= c.WriteWait {
		return fmt.Errorf("pong wait must be greater than write wait")
	}

	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Helper functions

// getEnv gets a string value from environment with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment with a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment with a default
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}
