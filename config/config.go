package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/krishnaAiGen/telegram-listing/internal/adapters/logger" // Import the logger package for LogLevel
	"github.com/krishnaAiGen/telegram-listing/internal/ports"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	TradeAmount     float64 // Quote-asset notional committed per trade (e.g., 1000 USDT)
	Leverage        int
	StopLossPct     float64 // Stop loss offset below entry, in percent (e.g., 2 for -2%)
	ProfitTargetPct float64 // Take profit offset above entry, in percent (e.g., 15 for +15%)
	QuoteAsset      string  // Suffix appended to extracted tickers (e.g., "USDT")

	// Supervision
	PollInterval  time.Duration // Position poll cadence while a trade is active
	MaxHold       time.Duration // Hard deadline on holding a position
	ShutdownGrace time.Duration // Time allowed for the manual-stop close during shutdown

	// Event Source
	TelegramBotToken string
	TelegramChatID   int64 // 0 accepts messages from any chat

	// Notifications
	SlackWebhookURL string // Empty disables Slack notifications

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	cfg.TradeAmount, err = getEnvAsFloatRequired("TRADE_AMOUNT", 1000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_AMOUNT: %v", err))
	} else if cfg.TradeAmount <= 0 {
		errs = append(errs, "TRADE_AMOUNT must be positive")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 2.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 100 {
		errs = append(errs, "STOP_LOSS_PCT must be between 0 and 100 (exclusive)")
	}

	cfg.ProfitTargetPct, err = getEnvAsFloatRequired("PROFIT_TARGET_PCT", 15.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROFIT_TARGET_PCT: %v", err))
	} else if cfg.ProfitTargetPct <= 0 {
		errs = append(errs, "PROFIT_TARGET_PCT must be positive")
	}

	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))
	if cfg.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}

	// Supervision
	pollMinutes := getEnvAsInt("POLL_INTERVAL_MINUTES", 10)
	if pollMinutes <= 0 {
		errs = append(errs, "POLL_INTERVAL_MINUTES must be positive")
	}
	cfg.PollInterval = time.Duration(pollMinutes) * time.Minute

	maxHoldHours := getEnvAsInt("MAX_HOLD_HOURS", 2)
	if maxHoldHours <= 0 {
		errs = append(errs, "MAX_HOLD_HOURS must be positive")
	}
	cfg.MaxHold = time.Duration(maxHoldHours) * time.Hour

	graceSeconds := getEnvAsInt("SHUTDOWN_GRACE_SECONDS", 10)
	if graceSeconds <= 0 {
		errs = append(errs, "SHUTDOWN_GRACE_SECONDS must be positive")
	}
	cfg.ShutdownGrace = time.Duration(graceSeconds) * time.Second

	// Event Source
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	if cfg.TelegramBotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN must be set")
	}

	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "")
	if chatIDStr != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
		}
	}

	// Notifications (optional)
	cfg.SlackWebhookURL = getEnv("SLACK_WEBHOOK_URL", "")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trades.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

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
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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
