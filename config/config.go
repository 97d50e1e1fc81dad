// Package config loads all application configuration from environment
// variables, with optional .env file support for local runs.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"perptrader/internal/decision"
	"perptrader/internal/indicator"
)

// Config holds all application configuration.
type Config struct {
	// Binance credentials
	APIKey    string
	SecretKey string
	Testnet   bool

	// Trading
	Symbol    string
	Timeframe string
	Leverage  int
	DryRun    bool // paper exchange instead of live orders
	UseStream bool // kline WebSocket trigger instead of polling

	// PaperBalance is the starting quote balance in dry-run mode.
	PaperBalance float64

	PollInterval         time.Duration
	MaxDailyLossFraction float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	StatusAddr    string

	// Notifications (optional)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	Indicator indicator.Config
	Strategy  decision.Config
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is applied first if present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env file")
	}

	dryRun := getBool("DRY_RUN", false)

	cfg := &Config{
		Symbol:       getEnv("SYMBOL", "ETHUSDT"),
		Timeframe:    getEnv("TIMEFRAME", "1h"),
		Leverage:     getInt("LEVERAGE", 5),
		DryRun:       dryRun,
		UseStream:    getBool("USE_STREAM", true),
		PaperBalance: getFloat("PAPER_BALANCE", 1000),
		Testnet:      getBool("BINANCE_TESTNET", false),

		PollInterval:         getDuration("POLL_INTERVAL", 5*time.Minute),
		MaxDailyLossFraction: getFloat("MAX_DAILY_LOSS", 0.10),

		RedisAddr:     getEnv("REDIS_ADDR", ""), // empty disables state persistence
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/journal.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		StatusAddr:    getEnv("STATUS_ADDR", ":8080"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		Indicator: indicator.Config{
			FastPeriod:       getInt("FAST_PERIOD", 7),
			SlowPeriod:       getInt("SLOW_PERIOD", 25),
			MacroPeriod:      getInt("MACRO_PERIOD", 89),
			VolatilityPeriod: getInt("ATR_PERIOD", 14),
			MomentumPeriod:   getInt("RSI_PERIOD", 14),
			ChopLookback:     getInt("CHOP_LOOKBACK", 24),
		},
		Strategy: decision.Config{
			RiskFraction:       getFloat("RISK_PER_TRADE", 0.03),
			MinOrderSize:       getFloat("MIN_ORDER_SIZE", 10.0),
			MaxLayers:          getInt("MAX_LAYERS", 3),
			PyramidStepATR:     getFloat("PYRAMID_STEP_ATR", 1.5),
			HardStopATR:        getFloat("HARD_STOP_ATR", 2.0),
			TrailStopATR:       getFloat("TRAIL_STOP_ATR", 2.0),
			SlopeMinPct:        getFloat("SLOPE_MIN_PCT", 0.04),
			DeviationMaxPct:    getFloat("DEVIATION_MAX_PCT", 2.5),
			ChopMaxCrosses:     getInt("CHOP_MAX_CROSSES", 5),
			OverboughtLevel:    getFloat("RSI_OVERBOUGHT", 75),
			OversoldLevel:      getFloat("RSI_OVERSOLD", 25),
			EntryOverboughtLvl: getFloat("ENTRY_RSI_OVERBOUGHT", 70),
			EntryOversoldLvl:   getFloat("ENTRY_RSI_OVERSOLD", 30),
		},
	}

	// Live trading needs real credentials; dry-run doesn't.
	if dryRun {
		cfg.APIKey = getEnv("BINANCE_API_KEY", "")
		cfg.SecretKey = getEnv("BINANCE_SECRET_KEY", "")
	} else {
		cfg.APIKey = mustEnv("BINANCE_API_KEY")
		cfg.SecretKey = mustEnv("BINANCE_SECRET_KEY")
	}

	return cfg
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
