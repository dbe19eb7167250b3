package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"houseBroker/internal/risk"
)

var envKeys = []string{
	"VENUE", "BINANCE_API_KEY", "BINANCE_API_SECRET", "IS_TESTNET", "SYMBOLS", "INSTRUMENTS_FILE",
	"COMMISSION_PER_LOT", "DEFAULT_LEVERAGE", "DEFAULT_BALANCE", "MARGIN_CALL_LEVEL", "STOP_OUT_LEVEL",
	"MARGIN_LEVEL_BASIS", "PRICE_INTERVAL_MS", "MONITOR_INTERVAL_MS", "CACHE_REFRESH_SECONDS",
	"SWEEP_INTERVAL_SECONDS", "DB_PATH", "LOG_LEVEL", "LISTEN_ADDR", "ALLOW_ORIGINS",
	"RECONNECT_DELAY_SECONDS", "MAX_RECONNECT_ATTEMPTS",
}

// clearEnv blanks every key; empty values read as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := fromEnv()
	require.NoError(t, err)
	assert.Equal(t, VenuePaper, cfg.Venue)
	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, []string{"EURUSD", "USDJPY", "XAUUSD"}, cfg.Symbols)
	assert.Len(t, cfg.Instruments, 3)
	assert.Equal(t, "6", cfg.CommissionPerLot.String())
	assert.Equal(t, 100, cfg.DefaultLeverage)
	assert.Equal(t, "10000", cfg.DefaultBalance.String())
	assert.Equal(t, "100", cfg.Thresholds.MarginCall.String())
	assert.Equal(t, "50", cfg.Thresholds.StopOut.String())
	assert.Equal(t, risk.BasisBalance, cfg.MarginLevelBasis)
	assert.Equal(t, time.Second, cfg.PriceInterval)
	assert.Equal(t, time.Second, cfg.MonitorInterval)
	assert.Equal(t, 30*time.Second, cfg.CacheRefresh)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Empty(t, cfg.AllowOrigins)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYMBOLS", "eurusd, xauusd,EURUSD")
	t.Setenv("COMMISSION_PER_LOT", "3.5")
	t.Setenv("MARGIN_CALL_LEVEL", "120")
	t.Setenv("STOP_OUT_LEVEL", "30")
	t.Setenv("MARGIN_LEVEL_BASIS", "Equity")
	t.Setenv("PRICE_INTERVAL_MS", "250")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOW_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := fromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, cfg.Symbols)
	assert.Equal(t, "3.5", cfg.CommissionPerLot.String())
	assert.Equal(t, "120", cfg.Thresholds.MarginCall.String())
	assert.Equal(t, risk.BasisEquity, cfg.MarginLevelBasis)
	assert.Equal(t, 250*time.Millisecond, cfg.PriceInterval)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
	assert.Len(t, cfg.AllowOrigins, 2)
}

func TestFromEnv_CollectsErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("VENUE", "binance")
	t.Setenv("DEFAULT_LEVERAGE", "abc")
	t.Setenv("MARGIN_CALL_LEVEL", "40")
	t.Setenv("MARGIN_LEVEL_BASIS", "free")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "0")

	_, err := fromEnv()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "BINANCE_API_KEY must be set")
	assert.Contains(t, msg, "BINANCE_API_SECRET must be set")
	assert.Contains(t, msg, "invalid DEFAULT_LEVERAGE")
	assert.Contains(t, msg, "invalid margin thresholds")
	assert.Contains(t, msg, "invalid MARGIN_LEVEL_BASIS")
	assert.Contains(t, msg, "SWEEP_INTERVAL_SECONDS must be positive")
	assert.Contains(t, msg, "; ")
}

func TestFromEnv_UnknownVenue(t *testing.T) {
	clearEnv(t)
	t.Setenv("VENUE", "kraken")
	_, err := fromEnv()
	assert.ErrorContains(t, err, "VENUE must be")
}

func TestFromEnv_InstrumentsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`instruments:
  - symbol: EURUSD
    venue_symbol: EURUSDT
    contract_size: 1000
    seed_price: "1.0850"
  - symbol: BTCUSD
    contract_size: 1
    pip_factor: 1
`), 0o644))
	t.Setenv("INSTRUMENTS_FILE", path)
	t.Setenv("SYMBOLS", "EURUSD,USDJPY")

	cfg, err := fromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Instruments, 2)

	table := cfg.InstrumentTable()
	assert.Equal(t, []string{"EURUSD", "USDJPY"}, table.Symbols())
	eur := table.Lookup("EURUSD")
	assert.Equal(t, "EURUSDT", eur.VenueSymbol)
	assert.Equal(t, "1000", eur.ContractSize.String())
	assert.Equal(t, "1.085", eur.SeedPrice.String())
	assert.False(t, table.Supported("BTCUSD"))
	assert.Equal(t, "100000", table.Lookup("USDJPY").ContractSize.String())
}

func TestFromEnv_BadInstrumentsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instruments:\n  - venue_symbol: X\n"), 0o644))
	t.Setenv("INSTRUMENTS_FILE", path)

	_, err := fromEnv()
	assert.ErrorContains(t, err, "has no symbol")

	t.Setenv("INSTRUMENTS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = fromEnv()
	assert.ErrorContains(t, err, "invalid INSTRUMENTS_FILE")
}
