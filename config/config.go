package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Engine defaults
	Model          string
	MaxTurns       int
	Cwd            string
	PermissionMode string

	// Database
	DBPath string

	// Session lifecycle
	IdleGrace     time.Duration // grace before an idle, subscriber-less session is reclaimed
	WSIdleTimeout time.Duration // WebSocket connection idle timeout

	// Debug settings
	DBLogQueries bool
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	cwd := getEnv("CWD", "")
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	return &Config{
		// Server
		Port: getEnvInt("SERVER_PORT", 8080),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		// Engine
		Model:          getEnv("MODEL", "sonnet"),
		MaxTurns:       getEnvInt("MAX_TURNS", 100),
		Cwd:            cwd,
		PermissionMode: getEnv("PERMISSION_MODE", "default"),

		// Database
		DBPath: getEnv("DB_PATH", "./data/ccsdk.db"),

		// Lifecycle
		IdleGrace:     time.Duration(getEnvInt("IDLE_GRACE_MS", 60000)) * time.Millisecond,
		WSIdleTimeout: time.Duration(getEnvInt("WS_IDLE_TIMEOUT_S", 120)) * time.Second,

		// Debug
		DBLogQueries: getEnv("DB_LOG_QUERIES", "") == "1",
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
