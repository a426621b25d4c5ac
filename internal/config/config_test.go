package config

import (
	"os"
	"testing"
	"time"

	"github.com/wallet-sync/internal/types"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("ORCH_DEFAULT_CHAIN_ID", "0XAA36A7")
	t.Setenv("PRICING_DEFAULT_CURRENCY", "eur")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, 30*time.Second)
	}
	if cfg.Orchestrator.DefaultChainID != types.ChainSepolia {
		t.Errorf("Orchestrator.DefaultChainID = %v, want %v", cfg.Orchestrator.DefaultChainID, types.ChainSepolia)
	}
	if cfg.Orchestrator.DefaultCoin != types.CoinETH {
		t.Errorf("Orchestrator.DefaultCoin = %v, want %v", cfg.Orchestrator.DefaultCoin, types.CoinETH)
	}
	if cfg.Orchestrator.MaxUnlockAttempts != 3 {
		t.Errorf("Orchestrator.MaxUnlockAttempts = %v, want 3", cfg.Orchestrator.MaxUnlockAttempts)
	}
	if cfg.Store.TxRetention != 500 {
		t.Errorf("Store.TxRetention = %v, want 500", cfg.Store.TxRetention)
	}
	if cfg.Pricing.DefaultCurrency != "EUR" {
		t.Errorf("Pricing.DefaultCurrency = %v, want EUR", cfg.Pricing.DefaultCurrency)
	}
	if cfg.Refresh.Interval != 30*time.Second {
		t.Errorf("Refresh.Interval = %v, want %v", cfg.Refresh.Interval, 30*time.Second)
	}
}

func TestLoadConfig_RefreshDisabled(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL", "0s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Refresh.Interval != 0 {
		t.Errorf("Refresh.Interval = %v, want 0", cfg.Refresh.Interval)
	}
}

func TestLoadConfig_NegativeRefresh(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL", "-5s")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() expected error for negative refresh interval")
	}
}

func TestLoadConfig_InvalidCacheDriver(t *testing.T) {
	t.Setenv("CACHE_DRIVER", "memcached")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() expected error for unknown cache driver")
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	if err := os.Setenv("TEST_FLOAT", "2.5"); err != nil {
		t.Fatalf("Failed to set env var: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("TEST_FLOAT")
	}()

	if got := getEnvAsFloat("TEST_FLOAT", 1); got != 2.5 {
		t.Errorf("getEnvAsFloat() = %v, want 2.5", got)
	}
	if got := getEnvAsFloat("TEST_FLOAT_NOTSET", 1); got != 1 {
		t.Errorf("getEnvAsFloat() = %v, want 1", got)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
