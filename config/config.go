// Package config loads the application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"riskcore/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Market data
	APIKey               string
	SecretKey            string
	Symbols              []string
	Interval             string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Risk policy
	RiskProfile    string  // conservative | moderate | aggressive
	DefaultStopPct float64 // suggested stop distance for stopless orders

	// Trailing stops
	TrailPct            float64
	BreakevenTriggerPct float64

	// Settlement
	QuoteCurrency   string
	StartingBalance float64 // quote currency seed on first run
	SlippagePct     float64
	IsPaper         bool

	// Decision gating
	MinCandles       int
	MaxCandleBuffer  int
	DecisionInterval time.Duration

	// Infrastructure
	DBPath         string
	EventQueueSize int
	MetricsAddr    string // empty disables the metrics endpoint
	LogLevel       logger.LogLevel
}

// Load reads configuration from the environment (.env file honoured,
// never required).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")

	for _, s := range strings.Split(getEnv("SYMBOLS", "BTCUSDT"), ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must name at least one symbol")
	}
	cfg.Interval = getEnv("CANDLE_INTERVAL", "1m")

	cfg.RiskProfile = strings.ToLower(getEnv("RISK_PROFILE", "moderate"))

	cfg.DefaultStopPct = getEnvAsFloat("DEFAULT_STOP_PCT", 0.02)
	if cfg.DefaultStopPct <= 0 || cfg.DefaultStopPct >= 1 {
		errs = append(errs, "DEFAULT_STOP_PCT must be between 0 and 1 (exclusive)")
	}

	cfg.TrailPct = getEnvAsFloat("TRAIL_PCT", 0.02)
	if cfg.TrailPct <= 0 || cfg.TrailPct >= 1 {
		errs = append(errs, "TRAIL_PCT must be between 0 and 1 (exclusive)")
	}
	cfg.BreakevenTriggerPct = getEnvAsFloat("BREAKEVEN_TRIGGER_PCT", 0.01)
	if cfg.BreakevenTriggerPct <= 0 || cfg.BreakevenTriggerPct >= 1 {
		errs = append(errs, "BREAKEVEN_TRIGGER_PCT must be between 0 and 1 (exclusive)")
	}

	cfg.QuoteCurrency = strings.ToUpper(getEnv("QUOTE_CURRENCY", "USDT"))
	cfg.StartingBalance = getEnvAsFloat("STARTING_BALANCE", 10000)
	if cfg.StartingBalance <= 0 {
		errs = append(errs, "STARTING_BALANCE must be positive")
	}
	cfg.SlippagePct = getEnvAsFloat("SLIPPAGE_PCT", 0.0005)
	if cfg.SlippagePct < 0 || cfg.SlippagePct >= 0.1 {
		errs = append(errs, "SLIPPAGE_PCT must be in [0, 0.1)")
	}
	cfg.IsPaper = getEnvAsBool("PAPER_TRADING", true)

	cfg.MinCandles = getEnvAsInt("MIN_CANDLES", 50)
	if cfg.MinCandles <= 0 {
		errs = append(errs, "MIN_CANDLES must be positive")
	}
	cfg.MaxCandleBuffer = getEnvAsInt("MAX_CANDLE_BUFFER", 500)
	if cfg.MaxCandleBuffer < cfg.MinCandles {
		errs = append(errs, "MAX_CANDLE_BUFFER must be at least MIN_CANDLES")
	}
	decisionSeconds := getEnvAsInt("DECISION_INTERVAL_SECONDS", 30)
	if decisionSeconds < 0 {
		errs = append(errs, "DECISION_INTERVAL_SECONDS cannot be negative")
	}
	cfg.DecisionInterval = time.Duration(decisionSeconds) * time.Second

	cfg.DBPath = getEnv("DB_PATH", "./data/riskcore.db")
	cfg.EventQueueSize = getEnvAsInt("EVENT_QUEUE_SIZE", 256)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	reconnectSeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectSeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectSeconds) * time.Second
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- env var helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
