// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for all databases (always absolute)
	Port      int
	DevMode   bool
	LogLevel  string
	LogPretty bool

	// Strategy settings
	MAWindow     int      // Trailing mean window in trading days
	MaxTriggers  int      // Safety cap on scheduler trigger deliveries
	PriceField   string   // "adj_close" or "close"
	StartDate    string   // First date the cursor may process (YYYY-MM-DD, empty = one year back)
	EndDate      string   // Last date loaded into the price matrix (empty = today)
	MinNotional  float64  // Orders below this value in account currency are dropped
	UniverseSeed []string // Symbols added on first boot when the universe is empty

	// Market-hours gate. When enabled, rebalance cycles are skipped
	// while the configured market is closed according to the
	// websocket status feed.
	MarketGate bool
	MarketCode string

	// Cron schedules (six-field, with seconds)
	RebalanceSchedule string
	PriceSyncSchedule string
	BackupSchedule    string
	CleanupSchedule   string

	// External services
	YahooBaseURL        string
	TradernetServiceURL string
	TradernetWSURL      string
	TradernetAPIKey     string
	TradernetAPISecret  string

	// R2/S3 backup target. Backups are disabled unless all of
	// endpoint, bucket and both keys are set.
	R2Endpoint      string
	R2Bucket        string
	R2AccessKey     string
	R2SecretKey     string
	R2Prefix        string
	R2RetentionDays int // 0 keeps old backups forever
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TILLER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		Port:      getEnvAsInt("TILLER_PORT", 8001),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),

		MAWindow:     getEnvAsInt("TILLER_MA_WINDOW", 200),
		MaxTriggers:  getEnvAsInt("TILLER_MAX_CYCLES", 10000),
		PriceField:   getEnv("TILLER_PRICE_FIELD", "adj_close"),
		StartDate:    getEnv("TILLER_START_DATE", ""),
		EndDate:      getEnv("TILLER_END_DATE", ""),
		MinNotional:  getEnvAsFloat("TILLER_MIN_NOTIONAL", 1.0),
		UniverseSeed: getEnvAsList("TILLER_UNIVERSE", nil),

		MarketGate: getEnvAsBool("TILLER_MARKET_GATE", false),
		MarketCode: getEnv("TILLER_MARKET_CODE", "us"),

		RebalanceSchedule: getEnv("CRON_REBALANCE", "0 40 16 * * MON-FRI"),
		PriceSyncSchedule: getEnv("CRON_PRICE_SYNC", "0 15 16 * * MON-FRI"),
		BackupSchedule:    getEnv("CRON_BACKUP", "0 0 3 * * SUN"),
		CleanupSchedule:   getEnv("CRON_CLEANUP", "0 30 3 * * *"),

		YahooBaseURL:        getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		TradernetServiceURL: getEnv("TRADERNET_SERVICE_URL", "http://localhost:9001"), // Tradernet microservice on 9001
		TradernetWSURL:      getEnv("TRADERNET_WS_URL", "wss://wss.tradernet.com"),
		TradernetAPIKey:     getEnv("TRADERNET_API_KEY", ""),
		TradernetAPISecret:  getEnv("TRADERNET_API_SECRET", ""),

		R2Endpoint:      getEnv("R2_ENDPOINT", ""),
		R2Bucket:        getEnv("R2_BUCKET", ""),
		R2AccessKey:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretKey:     getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Prefix:        getEnv("R2_PREFIX", "tiller-backups"),
		R2RetentionDays: getEnvAsInt("R2_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.MAWindow < 1 {
		return fmt.Errorf("invalid MA window %d: must be at least 1", c.MAWindow)
	}
	if c.MaxTriggers < 1 {
		return fmt.Errorf("invalid max cycles %d: must be at least 1", c.MaxTriggers)
	}
	if c.PriceField != "adj_close" && c.PriceField != "close" {
		return fmt.Errorf("invalid price field %q: must be adj_close or close", c.PriceField)
	}
	if c.MinNotional < 0 {
		return fmt.Errorf("invalid min notional %.2f: must not be negative", c.MinNotional)
	}
	for name, value := range map[string]string{"start date": c.StartDate, "end date": c.EndDate} {
		if value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return fmt.Errorf("invalid %s %q: must be YYYY-MM-DD", name, value)
		}
	}

	// Note: Tradernet credentials optional for research mode
	return nil
}

// BackupEnabled reports whether the R2 backup target is fully configured.
func (c *Config) BackupEnabled() bool {
	return c.R2Endpoint != "" && c.R2Bucket != "" && c.R2AccessKey != "" && c.R2SecretKey != ""
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
