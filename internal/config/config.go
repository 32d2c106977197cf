// Package config provides configuration management for the portfolio client
// and its development gateway. It loads configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Replica drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Credential backends
const (
	CredentialBackendFile   = "file"
	CredentialBackendRedis  = "redis"
	CredentialBackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	API         APIConfig
	Replica     ReplicaConfig
	Credentials CredentialConfig
	Database    DatabaseConfig
	Gateway     GatewayConfig
	Logging     LoggingConfig
}

// APIConfig configures the remote portfolio service client
type APIConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RateLimitRPS      float64
	RetryAttempts     int
	RetryInitialDelay time.Duration
	BreakerFailures   int
	BreakerCooldown   time.Duration
}

// ReplicaConfig configures the local replica
type ReplicaConfig struct {
	Driver            string
	Path              string // SQLite database file
	SnapshotRetention int
	FreshnessWindow   time.Duration
}

// CredentialConfig selects where the session token is kept
type CredentialConfig struct {
	Backend  string
	FilePath string
	RedisKey string
}

// DatabaseConfig holds the optional server-side stores
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// GatewayConfig configures the development gateway (cmd/gateway)
type GatewayConfig struct {
	Host         string
	Port         string
	DataFile     string
	User         string
	Password     string
	JWTSecret    string
	TokenTTL     time.Duration
	CacheTTL     time.Duration
	RateLimitRPS int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	home := defaultHome()

	config := &Config{
		API: APIConfig{
			BaseURL:           getEnv("API_BASE_URL", ""),
			Timeout:           getEnvAsDuration("API_TIMEOUT", 30*time.Second),
			RateLimitRPS:      getEnvAsFloat("API_RATE_LIMIT_RPS", 5),
			RetryAttempts:     getEnvAsInt("API_RETRY_ATTEMPTS", 2),
			RetryInitialDelay: getEnvAsDuration("API_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			BreakerFailures:   getEnvAsInt("API_BREAKER_FAILURES", 5),
			BreakerCooldown:   getEnvAsDuration("API_BREAKER_COOLDOWN", 30*time.Second),
		},
		Replica: ReplicaConfig{
			Driver:            getEnv("REPLICA_DRIVER", DriverSQLite),
			Path:              getEnv("REPLICA_PATH", filepath.Join(home, "replica.db")),
			SnapshotRetention: getEnvAsInt("SNAPSHOT_RETENTION", 20),
			FreshnessWindow:   getEnvAsDuration("FRESHNESS_WINDOW", 6*time.Hour),
		},
		Credentials: CredentialConfig{
			Backend:  getEnv("CREDENTIAL_BACKEND", CredentialBackendFile),
			FilePath: getEnv("CREDENTIAL_FILE", filepath.Join(home, "session.jwt")),
			RedisKey: getEnv("CREDENTIAL_REDIS_KEY", "portfolio:session"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Gateway: GatewayConfig{
			Host:         getEnv("GATEWAY_HOST", "127.0.0.1"),
			Port:         getEnv("GATEWAY_PORT", "8080"),
			DataFile:     getEnv("GATEWAY_DATA_FILE", "accounts.json"),
			User:         getEnv("GATEWAY_USER", "demo"),
			Password:     getEnv("GATEWAY_PASSWORD", ""),
			JWTSecret:    getEnv("GATEWAY_JWT_SECRET", ""),
			TokenTTL:     getEnvAsDuration("GATEWAY_TOKEN_TTL", 12*time.Hour),
			CacheTTL:     getEnvAsDuration("GATEWAY_CACHE_TTL", 6*time.Hour),
			RateLimitRPS: getEnvAsInt("GATEWAY_RATE_LIMIT_RPS", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	return config, nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Replica.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown REPLICA_DRIVER %q (want %s or %s)", c.Replica.Driver, DriverSQLite, DriverPostgres)
	}

	switch c.Credentials.Backend {
	case CredentialBackendFile, CredentialBackendRedis, CredentialBackendMemory:
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q", c.Credentials.Backend)
	}

	if c.Replica.SnapshotRetention <= 0 {
		return fmt.Errorf("SNAPSHOT_RETENTION must be positive, got %d", c.Replica.SnapshotRetention)
	}
	if c.Replica.FreshnessWindow <= 0 {
		return fmt.Errorf("FRESHNESS_WINDOW must be positive, got %v", c.Replica.FreshnessWindow)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive, got %v", c.API.Timeout)
	}
	return nil
}

// PostgresURL builds a connection URL for migrations and the pgx pool
func (c *PostgresConfig) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

func defaultHome() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "portfolio")
	}
	return ".portfolio"
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
