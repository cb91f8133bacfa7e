package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Default()
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	return cfg
}

func TestValidateConfigAcceptsDefaultsWithCredentials(t *testing.T) {
	if err := validate(validConfig()); err != nil {
		t.Fatalf("expected config to be valid, got %v", err)
	}
}

func TestValidateConfigRequiresCredentialsUnlessSimulating(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err == nil {
		t.Fatalf("expected missing credentials error")
	}
	cfg.Simulate = true
	if err := validate(cfg); err != nil {
		t.Fatalf("expected simulate to skip credentials, got %v", err)
	}
}

func TestValidateConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown buy rule":     func(c *Config) { c.TradeSignals.Buy = "moon" },
		"unknown sell rule":    func(c *Config) { c.TradeSignals.Sell = "panic" },
		"no instruments":       func(c *Config) { c.Instruments = nil },
		"duplicate instrument": func(c *Config) { c.Instruments = append(c.Instruments, c.Instruments[0]) },
		"missing increments":   func(c *Config) { c.Instruments[0].PriceIncrement = 0 },
		"rsi period":           func(c *Config) { c.Periods.RSI = 1 },
		"macd order":           func(c *Config) { c.Periods.MACDSlow = c.Periods.MACDFast },
		"stop loss":            func(c *Config) { c.StopLossThreshold = 1 },
		"negative buy amount":  func(c *Config) { c.BuyAmountPerTrade = -1 },
		"tick interval":        func(c *Config) { c.TickInterval = 0 },
		"call timeout":         func(c *Config) { c.CallTimeout = 0 },
		"frozen window":        func(c *Config) { c.FrozenFeedWindow = 1 },
		"max rows too small":   func(c *Config) { c.MaxDataRows = 10 },
		"market data":          func(c *Config) { c.MarketData = "bogus" },
		"rsi threshold":        func(c *Config) { c.RSIThreshold = 0 },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		cfg.Instruments = append([]Instrument(nil), cfg.Instruments...)
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	configContents := `
trades_enabled: true
tick_interval: 10m
buy_amount_per_trade: 50
log_level: debug
charts_csv: true
trade_signals:
  buy: macd_rsi
  sell: profit_target
instruments:
  - symbol: BTC/USD
    feed_symbol: XXBTZUSD
    price_increment: 0.1
    quantity_increment: 0.00001
  - symbol: ETH/USD
    feed_symbol: XETHZUSD
    price_increment: 0.01
    quantity_increment: 0.0001
`
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")
	t.Setenv("BOT_LOG_LEVEL", "warn")

	resetFlags := resetFlagSet(t)
	defer resetFlags()

	os.Args = []string{
		"cmd",
		"--config", configPath,
		"--buy-amount", "25",
		"--instruments", "ETH/USD",
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if !cfg.TradesEnabled {
		t.Fatalf("expected trades_enabled from file")
	}
	if cfg.TickInterval != 10*time.Minute {
		t.Fatalf("expected tick interval from file, got %s", cfg.TickInterval)
	}
	if cfg.TradeSignals.Buy != "macd_rsi" || cfg.TradeSignals.Sell != "profit_target" {
		t.Fatalf("expected rules from file, got %+v", cfg.TradeSignals)
	}
	if cfg.BuyAmountPerTrade != 25 {
		t.Fatalf("expected buy amount from CLI, got %v", cfg.BuyAmountPerTrade)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected log level from env, got %q", cfg.LogLevel)
	}
	if cfg.APIKey != "env-key" || cfg.APISecret != "env-secret" {
		t.Fatalf("expected credentials from env")
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].Symbol != "ETH/USD" || cfg.Instruments[0].FeedSymbol != "XETHZUSD" {
		t.Fatalf("expected CLI instruments to keep file details, got %+v", cfg.Instruments)
	}
	if !cfg.ChartsCSV || !cfg.SaveCharts {
		t.Fatalf("expected csv charts from file on top of default save_charts")
	}
	if cfg.Periods.SMASlow != 192 {
		t.Fatalf("expected default periods, got %+v", cfg.Periods)
	}
}

func TestLoadConfigRejectsUnknownYAMLKeys(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("simulate: true\nsimulate_api_calls: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resetFlags := resetFlagSet(t)
	defer resetFlags()
	os.Args = []string{"cmd", "--config", configPath}

	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := Default()
	cfg.Instruments = []Instrument{{Symbol: "ETH/USD", FeedSymbol: "XETHZUSD"}, {Symbol: "SOL/USD"}}

	symbols := cfg.Symbols()
	if len(symbols) != 2 || symbols[1] != "SOL/USD" {
		t.Fatalf("unexpected symbols %v", symbols)
	}
	feed := cfg.FeedSymbols()
	if feed["ETH/USD"] != "XETHZUSD" {
		t.Fatalf("unexpected feed symbols %v", feed)
	}
	if _, ok := feed["SOL/USD"]; ok {
		t.Fatalf("unmapped instruments should fall through")
	}
}

func resetFlagSet(t *testing.T) func() {
	t.Helper()
	originalArgs := os.Args
	originalCommandLine := flag.CommandLine
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	return func() {
		flag.CommandLine = originalCommandLine
		os.Args = originalArgs
	}
}
