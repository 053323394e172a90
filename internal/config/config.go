// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Trade lifecycle
	TradeTTL          time.Duration // time before an unproven trade expires
	ExpirySweep       time.Duration // how often the expiry timer scans
	HeartbeatTTL      time.Duration // admin considered offline after this much silence
	DefaultAdminID    string        // fallback operator when no candidate qualifies
	MinAmounts        map[string]float64
	MaxAmounts        map[string]float64
	Margins           map[string]float64 // per-asset buy/sell margin, e.g. 0.02
	RatingWindowHours int                // how long after completion a rating is accepted

	// Rate oracle
	OracleBaseURL   string
	FXBaseURL       string
	PriceRefresh    time.Duration
	FXRefresh       time.Duration
	OracleTimeout   time.Duration
	OracleRetries   int

	// Security
	GatewaySecret    string // shared secret the fronting gateway sends with actor headers
	SuperAdminSecret string
	RateLimitRPM     int
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultTradeTTL      = 900 * time.Second
	DefaultExpirySweep   = 15 * time.Second
	DefaultHeartbeatTTL  = 90 * time.Second
	DefaultMargin        = 0.02
	DefaultPriceRefresh  = 60 * time.Second
	DefaultFXRefresh     = 300 * time.Second
	DefaultOracleTimeout = 5 * time.Second
	DefaultRateLimitRPM  = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		TradeTTL:         getEnvDuration("TRADE_TTL", DefaultTradeTTL),
		ExpirySweep:      getEnvDuration("EXPIRY_SWEEP_INTERVAL", DefaultExpirySweep),
		HeartbeatTTL:     getEnvDuration("HEARTBEAT_TTL", DefaultHeartbeatTTL),
		DefaultAdminID:   getEnv("DEFAULT_ADMIN_ID", "adm_default"),
		OracleBaseURL:    getEnv("ORACLE_BASE_URL", "https://api.coingecko.com/api/v3"),
		FXBaseURL:        getEnv("FX_BASE_URL", "https://open.er-api.com/v6"),
		PriceRefresh:     getEnvDuration("PRICE_REFRESH", DefaultPriceRefresh),
		FXRefresh:        getEnvDuration("FX_REFRESH", DefaultFXRefresh),
		OracleTimeout:    getEnvDuration("ORACLE_TIMEOUT", DefaultOracleTimeout),
		OracleRetries:    int(getEnvInt64("ORACLE_RETRIES", 3)),
		GatewaySecret:    os.Getenv("GATEWAY_SECRET"),
		SuperAdminSecret: os.Getenv("SUPERADMIN_SECRET"),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimitRPM))),
	}

	cfg.MinAmounts = map[string]float64{
		"BTC":  getEnvFloat("MIN_BTC", 0.0001),
		"ETH":  getEnvFloat("MIN_ETH", 0.005),
		"USDT": getEnvFloat("MIN_USDT", 10),
	}
	cfg.MaxAmounts = map[string]float64{
		"BTC":  getEnvFloat("MAX_BTC", 2),
		"ETH":  getEnvFloat("MAX_ETH", 50),
		"USDT": getEnvFloat("MAX_USDT", 100000),
	}
	cfg.Margins = map[string]float64{
		"BTC":  getEnvFloat("MARGIN_BTC", DefaultMargin),
		"ETH":  getEnvFloat("MARGIN_ETH", DefaultMargin),
		"USDT": getEnvFloat("MARGIN_USDT", DefaultMargin),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TradeTTL <= 0 {
		return fmt.Errorf("TRADE_TTL must be positive")
	}
	if c.HeartbeatTTL <= 0 {
		return fmt.Errorf("HEARTBEAT_TTL must be positive")
	}
	for asset, m := range c.Margins {
		if m < 0 || m >= 1 {
			return fmt.Errorf("margin for %s must be in [0, 1), got %f", asset, m)
		}
	}
	for asset, min := range c.MinAmounts {
		if max, ok := c.MaxAmounts[asset]; ok && min > max {
			return fmt.Errorf("min amount for %s exceeds max (%f > %f)", asset, min, max)
		}
	}
	if c.IsProduction() && c.GatewaySecret == "" {
		return fmt.Errorf("GATEWAY_SECRET is required in production")
	}
	return nil
}

// Margin returns the configured margin for an asset, or the default.
func (c *Config) Margin(asset string) float64 {
	if m, ok := c.Margins[strings.ToUpper(asset)]; ok {
		return m
	}
	return DefaultMargin
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
