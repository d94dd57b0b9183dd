package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"perpbot/internal/adapters/logger"
	"perpbot/internal/domain"
	"perpbot/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	// Exchange API
	ContractType domain.ContractType // "linear" (USDT-margined) or "inverse" (coin-margined)
	APIKey       string
	SecretKey    string
	IsTestnet    bool
	MarginAsset  string // Inverse only: the coin funding the positions (e.g., "BTC")

	// Trading Parameters
	Symbols       []string // Base asset symbols, e.g., ["BTC", "ETH"]
	Timeframe     string   // Kline interval for indicator computation
	CycleInterval time.Duration
	Leverage      int
	FeeRate       float64 // Taker fee rate used for recorded fee estimates

	// Risk Parameters
	Risk risk.Config

	// Drawdown thresholds as percentages of peak balance, strictly ascending.
	DrawdownWarningPct    float64
	DrawdownNoNewPct      float64
	DrawdownForceClosePct float64

	// Indicator Parameters
	EMAPeriod      int
	RSIPeriod      int
	MACDFastPeriod int
	MACDSlowPeriod int
	ATRPeriod      int
	KlineLimit     int

	// Strategy Thresholds
	RSIOverbought float64
	RSIOversold   float64

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Exchange API
	contractType := strings.ToLower(getEnv("CONTRACT_TYPE", "linear"))
	switch contractType {
	case string(domain.ContractTypeLinear):
		cfg.ContractType = domain.ContractTypeLinear
	case string(domain.ContractTypeInverse):
		cfg.ContractType = domain.ContractTypeInverse
	default:
		errs = append(errs, fmt.Sprintf("CONTRACT_TYPE must be %q or %q, got %q",
			domain.ContractTypeLinear, domain.ContractTypeInverse, contractType))
	}

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.MarginAsset = strings.ToUpper(getEnv("MARGIN_ASSET", ""))

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}
	if cfg.ContractType == domain.ContractTypeInverse && cfg.MarginAsset == "" {
		errs = append(errs, "MARGIN_ASSET must be set for inverse contracts")
	}

	// Trading Parameters
	cfg.Symbols = splitList(getEnv("SYMBOLS", "ETH"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one base asset")
	}

	cfg.Timeframe = getEnv("TIMEFRAME", "1m")
	if cfg.Timeframe == "" {
		errs = append(errs, "TIMEFRAME must be set")
	}

	cycleSeconds := getEnvAsInt("CYCLE_INTERVAL_SECONDS", 60)
	if cycleSeconds <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_SECONDS must be positive")
	}
	cfg.CycleInterval = time.Duration(cycleSeconds) * time.Second

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.FeeRate, err = getEnvAsFloatRequired("FEE_RATE", 0.0005)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if cfg.FeeRate < 0 {
		errs = append(errs, "FEE_RATE cannot be negative")
	}

	// Risk Parameters
	cfg.Risk.ATRMultiplier, err = getEnvAsFloatRequired("ATR_MULTIPLIER", 2.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ATR_MULTIPLIER: %v", err))
	}
	cfg.Risk.MinStopPercent, err = getEnvAsFloatRequired("MIN_STOP_PERCENT", 0.0025)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_STOP_PERCENT: %v", err))
	}
	cfg.Risk.MaxStopPercent, err = getEnvAsFloatRequired("MAX_STOP_PERCENT", 0.05)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_STOP_PERCENT: %v", err))
	}
	cfg.Risk.TakeProfitPercent, err = getEnvAsFloatRequired("TAKE_PROFIT_PERCENT", 0.03)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PERCENT: %v", err))
	}
	cfg.Risk.TrailingEnabled = getEnvAsBool("TRAILING_ENABLED", true)
	cfg.Risk.TrailActivationR = getEnvAsFloat("TRAIL_ACTIVATION_R", 1.0)
	cfg.Risk.TrailDistanceR = getEnvAsFloat("TRAIL_DISTANCE_R", 1.0)

	cfg.Risk.PartialStages, err = parsePartialStages(getEnv("PARTIAL_STAGES", "1.0:0.3,2.0:0.3,3.0:0.4"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PARTIAL_STAGES: %v", err))
	}

	cfg.Risk.MaxLeverage = getEnvAsInt("MAX_LEVERAGE", 20)
	cfg.Risk.MaxPositionSize = getEnvAsFloat("MAX_POSITION_SIZE", 0)
	cfg.Risk.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 3)
	cfg.Risk.PositionSizePercent, err = getEnvAsFloatRequired("POSITION_SIZE_PERCENT", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE_PERCENT: %v", err))
	} else if cfg.Risk.PositionSizePercent <= 0 || cfg.Risk.PositionSizePercent > 1.0 {
		errs = append(errs, "POSITION_SIZE_PERCENT must be between 0.0 (exclusive) and 1.0")
	}

	// Drawdown thresholds
	cfg.DrawdownWarningPct = getEnvAsFloat("DRAWDOWN_WARNING_PCT", 20.0)
	cfg.DrawdownNoNewPct = getEnvAsFloat("DRAWDOWN_NO_NEW_PCT", 30.0)
	cfg.DrawdownForceClosePct = getEnvAsFloat("DRAWDOWN_FORCE_CLOSE_PCT", 50.0)
	if !(cfg.DrawdownWarningPct < cfg.DrawdownNoNewPct && cfg.DrawdownNoNewPct < cfg.DrawdownForceClosePct) {
		errs = append(errs, "drawdown thresholds must be strictly ascending (warning < no-new < force-close)")
	}

	// Indicator Parameters (using defaults if not set)
	cfg.EMAPeriod = getEnvAsInt("EMA_PERIOD", 20)
	cfg.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.MACDFastPeriod = getEnvAsInt("MACD_FAST_PERIOD", 12)
	cfg.MACDSlowPeriod = getEnvAsInt("MACD_SLOW_PERIOD", 26)
	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	cfg.KlineLimit = getEnvAsInt("KLINE_LIMIT", 100)

	if cfg.EMAPeriod <= 0 || cfg.RSIPeriod <= 0 || cfg.MACDFastPeriod <= 0 || cfg.MACDSlowPeriod <= 0 || cfg.ATRPeriod <= 0 {
		errs = append(errs, "indicator periods (EMA, RSI, MACD, ATR) must be positive")
	}
	if cfg.MACDFastPeriod >= cfg.MACDSlowPeriod {
		errs = append(errs, "MACD_FAST_PERIOD must be less than MACD_SLOW_PERIOD")
	}
	if cfg.KlineLimit < cfg.MACDSlowPeriod || cfg.KlineLimit < cfg.EMAPeriod {
		errs = append(errs, "KLINE_LIMIT must cover the longest indicator period")
	}

	// Strategy Thresholds
	cfg.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", 70.0)
	cfg.RSIOversold = getEnvAsFloat("RSI_OVERSOLD", 30.0)
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/perpbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parsePartialStages parses "R:percent" pairs, e.g. "1.0:0.3,2.0:0.3,3.0:0.4".
// An empty value disables staged partial take-profit. Ordering and percent
// totals are validated by the risk engine.
func parsePartialStages(raw string) ([]risk.PartialStage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	stages := make([]risk.PartialStage, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("stage %q must be in R:percent form", part)
		}
		rMultiple, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid R-multiple in stage %q: %w", part, err)
		}
		closePercent, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid close percent in stage %q: %w", part, err)
		}
		stages = append(stages, risk.PartialStage{RMultiple: rMultiple, ClosePercent: closePercent})
	}
	return stages, nil
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
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
