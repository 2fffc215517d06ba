// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Refresh coordinator schedule (cron expressions, local time).
	// Defaults follow the Korean market day: after open, after close,
	// and a snapshot pass once trading is done.
	PriceRefreshSchedules []string
	SnapshotSchedule      string
	CacheCleanupSchedule  string
	WALCheckpointSchedule string
	RefreshOnStartup      bool

	// Valuation worker pool size for concurrent quote fetches.
	ValuationWorkers int

	// Provider toggles. Disabling a provider removes it from the
	// fallback order without touching the rest of the chain.
	KRXEnabled          bool
	YahooEnabled        bool
	ExchangeRateEnabled bool
}

// Load reads configuration from environment variables.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("WONFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:               absDataDir,
		Port:                  getEnvAsInt("WONFOLIO_PORT", 8010),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DevMode:               getEnvAsBool("DEV_MODE", false),
		PriceRefreshSchedules: getEnvAsList("REFRESH_SCHEDULES", []string{"30 9 * * *", "30 15 * * *"}),
		SnapshotSchedule:      getEnv("SNAPSHOT_SCHEDULE", "0 16 * * *"),
		CacheCleanupSchedule:  getEnv("CACHE_CLEANUP_SCHEDULE", "30 0 * * *"),
		WALCheckpointSchedule: getEnv("WAL_CHECKPOINT_SCHEDULE", "45 0 * * *"),
		RefreshOnStartup:      getEnvAsBool("REFRESH_ON_STARTUP", true),
		ValuationWorkers:      getEnvAsInt("VALUATION_WORKERS", 8),
		KRXEnabled:            getEnvAsBool("KRX_ENABLED", true),
		YahooEnabled:          getEnvAsBool("YAHOO_ENABLED", true),
		ExchangeRateEnabled:   getEnvAsBool("EXCHANGERATE_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ValuationWorkers <= 0 {
		return fmt.Errorf("valuation workers must be positive, got %d", c.ValuationWorkers)
	}
	if !c.KRXEnabled && !c.YahooEnabled {
		return fmt.Errorf("at least one quote provider must be enabled")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a semicolon-separated env value into a list.
// Cron expressions contain spaces and commas, so ";" is the separator.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
