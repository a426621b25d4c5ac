// Package config provides configuration management for the wallet sync daemon.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wallet-sync/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Backend      BackendConfig
	Store        StoreConfig
	Orchestrator OrchestratorConfig
	Cache        CacheConfig
	Pricing      PricingConfig
	Refresh      RefreshConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// BackendConfig holds the wallet backend connection settings
type BackendConfig struct {
	RPCPrimary   string
	RPCSecondary string
	StreamURL    string
	CallTimeout  time.Duration
	ReadRetries  int
	RPS          float64
	Burst        int
}

// StoreConfig holds entity store settings
type StoreConfig struct {
	TxRetention    int
	MutationBuffer int
}

// OrchestratorConfig holds command orchestrator settings
type OrchestratorConfig struct {
	MaxUnlockAttempts int
	DefaultChainID    types.ChainID
	DefaultCoin       types.CoinType
}

// CacheConfig holds query cache configuration
type CacheConfig struct {
	Driver string // memory | redis
	TTL    time.Duration
	Redis  RedisConfig
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// PricingConfig holds fiat valuation settings
type PricingConfig struct {
	DefaultCurrency string
}

// RefreshConfig holds the periodic balance and price refresh settings
type RefreshConfig struct {
	// Interval between refreshes; 0 disables polling
	Interval time.Duration
}

// RateLimitConfig holds api rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
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
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Backend: BackendConfig{
			RPCPrimary:   getEnv("BACKEND_RPC_PRIMARY", "http://localhost:8545"),
			RPCSecondary: getEnv("BACKEND_RPC_SECONDARY", ""),
			StreamURL:    getEnv("BACKEND_STREAM_URL", ""),
			CallTimeout:  getEnvAsDuration("BACKEND_CALL_TIMEOUT", 15*time.Second),
			ReadRetries:  getEnvAsInt("BACKEND_READ_RETRIES", 3),
			RPS:          getEnvAsFloat("BACKEND_RPS", 20),
			Burst:        getEnvAsInt("BACKEND_BURST", 10),
		},
		Store: StoreConfig{
			TxRetention:    getEnvAsInt("STORE_TX_RETENTION", 500),
			MutationBuffer: getEnvAsInt("STORE_MUTATION_BUFFER", 64),
		},
		Orchestrator: OrchestratorConfig{
			MaxUnlockAttempts: getEnvAsInt("ORCH_MAX_UNLOCK_ATTEMPTS", 3),
			DefaultChainID:    types.NormalizeChainID(getEnv("ORCH_DEFAULT_CHAIN_ID", string(types.ChainMainnet))),
			DefaultCoin:       types.CoinType(getEnvAsInt("ORCH_DEFAULT_COIN", int(types.CoinETH))),
		},
		Cache: CacheConfig{
			Driver: strings.ToLower(getEnv("CACHE_DRIVER", "memory")),
			TTL:    getEnvAsDuration("CACHE_TTL", 20*time.Second),
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Pricing: PricingConfig{
			DefaultCurrency: strings.ToUpper(getEnv("PRICING_DEFAULT_CURRENCY", "USD")),
		},
		Refresh: RefreshConfig{
			Interval: getEnvAsDuration("REFRESH_INTERVAL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 50),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid CACHE_DRIVER %q: want memory or redis", c.Cache.Driver)
	}
	if c.Orchestrator.MaxUnlockAttempts < 1 {
		return fmt.Errorf("ORCH_MAX_UNLOCK_ATTEMPTS must be at least 1")
	}
	if c.Store.TxRetention < 0 {
		return fmt.Errorf("STORE_TX_RETENTION must not be negative")
	}
	if c.Refresh.Interval < 0 {
		return fmt.Errorf("REFRESH_INTERVAL must not be negative")
	}
	if c.Backend.RPCPrimary == "" {
		return fmt.Errorf("BACKEND_RPC_PRIMARY is required")
	}
	return nil
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
