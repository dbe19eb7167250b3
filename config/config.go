package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"houseBroker/internal/adapters/logger"
	"houseBroker/internal/domain"
	"houseBroker/internal/risk"
)

// Venue names accepted by VENUE.
const (
	VenuePaper   = "paper"
	VenueBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Venue
	Venue     string
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Instruments
	Symbols         []string
	InstrumentsFile string
	Instruments     []domain.Instrument // Loaded from InstrumentsFile, or built-in conventions per symbol

	// Accounts and margin
	CommissionPerLot decimal.Decimal
	DefaultLeverage  int
	DefaultBalance   decimal.Decimal
	Thresholds       risk.Thresholds
	MarginLevelBasis risk.Basis

	// Loop intervals
	PriceInterval   time.Duration
	MonitorInterval time.Duration
	CacheRefresh    time.Duration
	SweepInterval   time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel zapcore.Level

	// HTTP
	ListenAddr   string
	AllowOrigins []string

	// Connection Settings (Binance venue)
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// instrumentFile is the YAML layout of INSTRUMENTS_FILE.
type instrumentFile struct {
	Instruments []domain.Instrument `yaml:"instruments"`
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Venue
	cfg.Venue = strings.ToLower(getEnv("VENUE", VenuePaper))
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	switch cfg.Venue {
	case VenuePaper:
	case VenueBinance:
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set when VENUE=binance")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set when VENUE=binance")
		}
	default:
		errs = append(errs, fmt.Sprintf("VENUE must be %q or %q, got %q", VenuePaper, VenueBinance, cfg.Venue))
	}

	// Instruments
	cfg.Symbols = getEnvAsList("SYMBOLS", []string{"EURUSD", "USDJPY", "XAUUSD"})
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one instrument")
	}
	cfg.InstrumentsFile = getEnv("INSTRUMENTS_FILE", "")
	if cfg.InstrumentsFile != "" {
		cfg.Instruments, err = loadInstruments(cfg.InstrumentsFile)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid INSTRUMENTS_FILE: %v", err))
		}
	}
	if len(cfg.Instruments) == 0 {
		for _, s := range cfg.Symbols {
			cfg.Instruments = append(cfg.Instruments, domain.Instrument{Symbol: s})
		}
	}

	// Accounts and margin
	cfg.CommissionPerLot, err = getEnvAsDecimalRequired("COMMISSION_PER_LOT", decimal.NewFromInt(6))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COMMISSION_PER_LOT: %v", err))
	} else if cfg.CommissionPerLot.IsNegative() {
		errs = append(errs, "COMMISSION_PER_LOT cannot be negative")
	}

	cfg.DefaultLeverage, err = getEnvAsIntRequired("DEFAULT_LEVERAGE", 100)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_LEVERAGE: %v", err))
	} else if cfg.DefaultLeverage <= 0 {
		errs = append(errs, "DEFAULT_LEVERAGE must be positive")
	}

	cfg.DefaultBalance, err = getEnvAsDecimalRequired("DEFAULT_BALANCE", decimal.NewFromInt(10000))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_BALANCE: %v", err))
	} else if cfg.DefaultBalance.IsNegative() {
		errs = append(errs, "DEFAULT_BALANCE cannot be negative")
	}

	defaults := risk.DefaultThresholds()
	cfg.Thresholds.MarginCall, err = getEnvAsDecimalRequired("MARGIN_CALL_LEVEL", defaults.MarginCall)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARGIN_CALL_LEVEL: %v", err))
	}
	cfg.Thresholds.StopOut, err = getEnvAsDecimalRequired("STOP_OUT_LEVEL", defaults.StopOut)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_OUT_LEVEL: %v", err))
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid margin thresholds: %v", err))
	}

	cfg.MarginLevelBasis, err = risk.ParseBasis(getEnv("MARGIN_LEVEL_BASIS", string(risk.BasisBalance)))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARGIN_LEVEL_BASIS: %v", err))
	}

	// Loop intervals
	cfg.PriceInterval = getEnvAsDuration("PRICE_INTERVAL_MS", 1000, time.Millisecond, &errs)
	cfg.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL_MS", 1000, time.Millisecond, &errs)
	cfg.CacheRefresh = getEnvAsDuration("CACHE_REFRESH_SECONDS", 30, time.Second, &errs)
	cfg.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL_SECONDS", 30, time.Second, &errs)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/house_broker.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// HTTP
	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")
	cfg.AllowOrigins = getEnvAsList("ALLOW_ORIGINS", nil)

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// InstrumentTable builds the instrument table, restricted to the configured symbols.
func (c *Config) InstrumentTable() *risk.Table {
	wanted := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		wanted[s] = true
	}
	list := make([]domain.Instrument, 0, len(c.Symbols))
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		symbol := strings.ToUpper(inst.Symbol)
		if wanted[symbol] {
			list = append(list, inst)
			seen[symbol] = true
		}
	}
	for _, s := range c.Symbols {
		if !seen[s] {
			list = append(list, domain.Instrument{Symbol: s})
		}
	}
	return risk.NewTable(list)
}

func loadInstruments(path string) ([]domain.Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file instrumentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, inst := range file.Instruments {
		if strings.TrimSpace(inst.Symbol) == "" {
			return nil, fmt.Errorf("instrument #%d has no symbol", i+1)
		}
		if inst.ContractSize.IsNegative() || inst.SeedPrice.IsNegative() {
			return nil, fmt.Errorf("instrument %s has a negative contract size or seed price", inst.Symbol)
		}
	}
	return file.Instruments, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key == "SYMBOLS" {
			part = strings.ToUpper(part)
		}
		if seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
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

func getEnvAsDecimalRequired(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsDuration reads a positive integer count of unit.
func getEnvAsDuration(key string, defaultValue int, unit time.Duration, errs *[]string) time.Duration {
	n, err := getEnvAsIntRequired(key, defaultValue)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid %s: %v", key, err))
		return 0
	}
	if n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive", key))
		return 0
	}
	return time.Duration(n) * unit
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
