package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the webhook trader.
type Config struct {
	Port string

	// Binance USDT-M futures
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceBaseURL   string // REST override, mostly for tests
	BinanceWSBaseURL string // stream override
	TradingAsset     string

	// Risk
	MaxPositionPercentage float64
	MaxLeverage           int
	CorrelationGrace      time.Duration

	// Feeds
	FeedReconnectMax time.Duration

	// Execution
	DryRun               bool
	DryRunInitialBalance float64

	// Database
	DBPath string

	// Auth
	WebhookPassphrase string
	AdminJWTSecret    string

	// Reconciliation
	ReconcileInterval time.Duration
}

// FileConfig is the optional YAML overlay named by CONFIG_FILE. Zero values
// leave the environment setting alone.
type FileConfig struct {
	Risk struct {
		MaxPositionPercentage   float64 `yaml:"max_position_percentage"`
		MaxLeverage             int     `yaml:"max_leverage"`
		CorrelationGraceSeconds int     `yaml:"correlation_grace_seconds"`
	} `yaml:"risk"`
	Feeds struct {
		ReconnectMaxSeconds int `yaml:"reconnect_max_seconds"`
	} `yaml:"feeds"`
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds"`
}

// Load reads environment variables (optionally via .env) into Config and
// applies the YAML overlay when CONFIG_FILE is set.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "3000"),
		BinanceTestnet:        getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:         os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:      os.Getenv("BINANCE_API_SECRET"),
		BinanceBaseURL:        os.Getenv("BINANCE_API_BASE_URL"),
		BinanceWSBaseURL:      os.Getenv("BINANCE_WS_BASE_URL"),
		TradingAsset:          strings.ToUpper(getEnv("BINANCE_TRADING_ASSET", "USDT")),
		MaxPositionPercentage: getEnvFloat("MAX_POSITION_PERCENTAGE", 2),
		MaxLeverage:           getEnvInt("MAX_LEVERAGE", 20),
		CorrelationGrace:      time.Duration(getEnvInt("CORRELATION_GRACE_SECONDS", 120)) * time.Second,
		FeedReconnectMax:      time.Duration(getEnvInt("FEED_RECONNECT_MAX_SECONDS", 60)) * time.Second,
		DryRun:                getEnv("DRY_RUN", "false") == "true",
		DryRunInitialBalance:  getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000.0),
		DBPath:                getEnv("DB_PATH", "./data/webhook_trader.db"),
		WebhookPassphrase:     os.Getenv("WEBHOOK_PASSPHRASE"),
		AdminJWTSecret:        os.Getenv("ADMIN_JWT_SECRET"),
		ReconcileInterval:     time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 60)) * time.Second,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.apply(fc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the YAML overlay.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (c *Config) apply(fc *FileConfig) {
	if fc.Risk.MaxPositionPercentage > 0 {
		c.MaxPositionPercentage = fc.Risk.MaxPositionPercentage
	}
	if fc.Risk.MaxLeverage > 0 {
		c.MaxLeverage = fc.Risk.MaxLeverage
	}
	if fc.Risk.CorrelationGraceSeconds > 0 {
		c.CorrelationGrace = time.Duration(fc.Risk.CorrelationGraceSeconds) * time.Second
	}
	if fc.Feeds.ReconnectMaxSeconds > 0 {
		c.FeedReconnectMax = time.Duration(fc.Feeds.ReconnectMaxSeconds) * time.Second
	}
	if fc.ReconcileIntervalSeconds > 0 {
		c.ReconcileInterval = time.Duration(fc.ReconcileIntervalSeconds) * time.Second
	}
}

// Validate rejects settings the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.MaxPositionPercentage <= 0 || c.MaxPositionPercentage > 100 {
		return fmt.Errorf("MAX_POSITION_PERCENTAGE must be in (0, 100], got %v", c.MaxPositionPercentage)
	}
	if c.MaxLeverage < 1 || c.MaxLeverage > 125 {
		return fmt.Errorf("MAX_LEVERAGE must be in [1, 125], got %d", c.MaxLeverage)
	}
	if !c.DryRun && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required unless DRY_RUN=true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
