// Package config loads the bot settings from defaults, an optional YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cryptobot/internal/indicator"
	"cryptobot/internal/strategy"
)

const (
	MarketDataKraken = "kraken"
	MarketDataAlpaca = "alpaca"
)

type Instrument struct {
	Symbol            string  `yaml:"symbol"`
	FeedSymbol        string  `yaml:"feed_symbol"`
	PriceIncrement    float64 `yaml:"price_increment"`
	QuantityIncrement float64 `yaml:"quantity_increment"`
}

type TradeSignals struct {
	Buy  string `yaml:"buy"`
	Sell string `yaml:"sell"`
}

type Config struct {
	APIKey        string `yaml:"-"`
	APISecret     string `yaml:"-"`
	BrokerBaseURL string `yaml:"broker_base_url"`

	TradesEnabled   bool    `yaml:"trades_enabled"`
	Simulate        bool    `yaml:"simulate"`
	SimStartingCash float64 `yaml:"sim_starting_cash"`
	SimSeed         int64   `yaml:"sim_seed"`

	MarketData    string       `yaml:"market_data"`
	MarketDataURL string       `yaml:"market_data_url"`
	Instruments   []Instrument `yaml:"instruments"`

	TradeSignals          TradeSignals      `yaml:"trade_signals"`
	BuyBelowMovingAverage float64           `yaml:"buy_below_moving_average"`
	ProfitPercentage      float64           `yaml:"profit_percentage"`
	BuyAmountPerTrade     float64           `yaml:"buy_amount_per_trade"`
	Periods               indicator.Periods `yaml:"periods"`
	RSIThreshold          float64           `yaml:"rsi_threshold"`
	Reserve               float64           `yaml:"reserve"`
	StopLossThreshold     float64           `yaml:"stop_loss_threshold"`

	TickInterval     time.Duration `yaml:"tick_interval"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	ReconcileEvery   int           `yaml:"reconcile_every"`
	FrozenFeedWindow int           `yaml:"frozen_feed_window"`
	MaxDataRows      int           `yaml:"max_data_rows"`

	SaveCharts   bool   `yaml:"save_charts"`
	ChartsDir    string `yaml:"charts_dir"`
	ChartsCSV    bool   `yaml:"charts_csv"`
	SnapshotPath string `yaml:"snapshot_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	JournalPath  string `yaml:"journal_path"`

	StatusAddr    string `yaml:"status_addr"`
	ProfilingAddr string `yaml:"profiling_addr"`
	LogLevel      string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		BrokerBaseURL:   "https://paper-api.alpaca.markets",
		SimStartingCash: 5000,
		MarketData:      MarketDataKraken,
		Instruments: []Instrument{
			{Symbol: "ETH/USD", FeedSymbol: "XETHZUSD", PriceIncrement: 0.01, QuantityIncrement: 0.0001},
		},
		TradeSignals:          TradeSignals{Buy: strategy.DefaultBuyRule, Sell: strategy.DefaultSellRule},
		BuyBelowMovingAverage: 0.0075,
		ProfitPercentage:      0.01,
		Periods: indicator.Periods{
			SMAFast:    48,
			SMASlow:    192,
			RSI:        48,
			MACDFast:   48,
			MACDSlow:   104,
			MACDSignal: 28,
		},
		RSIThreshold:      39.5,
		StopLossThreshold: 0.3,
		TickInterval:      5 * time.Minute,
		CallTimeout:       15 * time.Second,
		ReconcileEvery:    12,
		FrozenFeedWindow:  4,
		MaxDataRows:       10000,
		SaveCharts:        true,
		ChartsDir:         "charts",
		SnapshotPath:      "pickle/snapshot.json",
		JournalPath:       "trades.ndjson",
		StatusAddr:        ":8080",
		LogLevel:          "info",
	}
}

// Load builds the configuration. A .env file in the working directory is
// read first without overriding variables already set.
func Load() (Config, error) {
	loadDotEnvIfPresent(".env")

	cfg := Default()
	var (
		configPath  string
		instruments string
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.BoolVar(&cfg.TradesEnabled, "trades-enabled", cfg.TradesEnabled, "submit orders to the broker")
	flag.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "use simulated market data and a paper broker")
	flag.StringVar(&instruments, "instruments", "", "comma separated instrument symbols")
	flag.StringVar(&cfg.TradeSignals.Buy, "buy-rule", cfg.TradeSignals.Buy, "buy rule name")
	flag.StringVar(&cfg.TradeSignals.Sell, "sell-rule", cfg.TradeSignals.Sell, "sell rule name")
	flag.Float64Var(&cfg.BuyAmountPerTrade, "buy-amount", cfg.BuyAmountPerTrade, "cash per buy, 0 spends all available cash")
	flag.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "time between ticks")
	flag.StringVar(&cfg.MarketData, "market-data", cfg.MarketData, "market data provider: kraken or alpaca")
	flag.StringVar(&cfg.SnapshotPath, "snapshot-path", cfg.SnapshotPath, "path to the snapshot file")
	flag.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "status API listen address, empty disables it")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	flagged := cfg

	base := Default()
	if configPath != "" {
		if err := loadFile(configPath, &base); err != nil {
			return base, err
		}
	}
	applyEnv(&base)

	if set["trades-enabled"] {
		base.TradesEnabled = flagged.TradesEnabled
	}
	if set["simulate"] {
		base.Simulate = flagged.Simulate
	}
	if set["instruments"] {
		base.Instruments = parseInstruments(instruments, base.Instruments)
	}
	if set["buy-rule"] {
		base.TradeSignals.Buy = flagged.TradeSignals.Buy
	}
	if set["sell-rule"] {
		base.TradeSignals.Sell = flagged.TradeSignals.Sell
	}
	if set["buy-amount"] {
		base.BuyAmountPerTrade = flagged.BuyAmountPerTrade
	}
	if set["tick-interval"] {
		base.TickInterval = flagged.TickInterval
	}
	if set["market-data"] {
		base.MarketData = flagged.MarketData
	}
	if set["snapshot-path"] {
		base.SnapshotPath = flagged.SnapshotPath
	}
	if set["status-addr"] {
		base.StatusAddr = flagged.StatusAddr
	}
	if set["log-level"] {
		base.LogLevel = flagged.LogLevel
	}

	if err := validate(base); err != nil {
		return base, err
	}
	return base, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode yaml %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.APISecret = v
	}
	if v := os.Getenv("BOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BOT_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
}

// parseInstruments keeps the configured details of symbols that are already
// known and adds bare entries for new ones.
func parseInstruments(list string, known []Instrument) []Instrument {
	bySymbol := make(map[string]Instrument, len(known))
	for _, inst := range known {
		bySymbol[inst.Symbol] = inst
	}
	var out []Instrument
	for _, symbol := range strings.Split(list, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		inst, ok := bySymbol[symbol]
		if !ok {
			inst = Instrument{Symbol: symbol}
		}
		out = append(out, inst)
	}
	return out
}

func loadDotEnvIfPresent(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = loadDotEnv(path)
}

func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

// Symbols returns the instrument symbols in configured order.
func (c Config) Symbols() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

// FeedSymbols maps instruments to their market data names.
func (c Config) FeedSymbols() map[string]string {
	out := make(map[string]string, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.FeedSymbol != "" {
			out[inst.Symbol] = inst.FeedSymbol
		}
	}
	return out
}

func (c Config) StrategyParams() strategy.Params {
	return strategy.Params{
		BuyBelowMovingAverage: c.BuyBelowMovingAverage,
		RSIThreshold:          c.RSIThreshold,
		ProfitPercentage:      c.ProfitPercentage,
	}
}

func validate(cfg Config) error {
	if !cfg.Simulate && (cfg.APIKey == "" || cfg.APISecret == "") {
		return errors.New("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required unless simulate is set")
	}
	if len(cfg.Instruments) == 0 {
		return errors.New("at least one instrument is required")
	}
	seen := map[string]bool{}
	for _, inst := range cfg.Instruments {
		if inst.Symbol == "" {
			return errors.New("instrument symbol must not be empty")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if !cfg.Simulate && (inst.PriceIncrement <= 0 || inst.QuantityIncrement <= 0) {
			return fmt.Errorf("instrument %s needs price_increment and quantity_increment > 0", inst.Symbol)
		}
	}
	if _, err := strategy.NewBuyRule(cfg.TradeSignals.Buy, cfg.StrategyParams()); err != nil {
		return err
	}
	if _, err := strategy.NewSellRule(cfg.TradeSignals.Sell, cfg.StrategyParams()); err != nil {
		return err
	}
	if cfg.MarketData != MarketDataKraken && cfg.MarketData != MarketDataAlpaca {
		return fmt.Errorf("invalid market_data: %s", cfg.MarketData)
	}

	p := cfg.Periods
	if p.SMAFast <= 0 || p.SMASlow <= 0 {
		return errors.New("sma periods must be > 0")
	}
	if p.RSI < 2 {
		return errors.New("rsi period must be >= 2")
	}
	if p.MACDFast <= 0 || p.MACDSignal <= 0 || p.MACDSlow <= p.MACDFast {
		return errors.New("macd periods must be > 0 with macd_slow > macd_fast")
	}
	if cfg.RSIThreshold <= 0 || cfg.RSIThreshold > 100 {
		return errors.New("rsi_threshold must be in (0, 100]")
	}
	if cfg.BuyBelowMovingAverage < 0 || cfg.BuyBelowMovingAverage >= 1 {
		return errors.New("buy_below_moving_average must be in [0, 1)")
	}
	if cfg.StopLossThreshold < 0 || cfg.StopLossThreshold >= 1 {
		return errors.New("stop_loss_threshold must be in [0, 1)")
	}
	if cfg.ProfitPercentage < 0 {
		return errors.New("profit_percentage must be >= 0")
	}
	if cfg.BuyAmountPerTrade < 0 {
		return errors.New("buy_amount_per_trade must be >= 0")
	}
	if cfg.Reserve < 0 {
		return errors.New("reserve must be >= 0")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("tick_interval must be > 0")
	}
	if cfg.CallTimeout <= 0 {
		return errors.New("call_timeout must be > 0")
	}
	if cfg.ReconcileEvery < 0 {
		return errors.New("reconcile_every must be >= 0")
	}
	if cfg.FrozenFeedWindow < 2 {
		return errors.New("frozen_feed_window must be >= 2")
	}
	if cfg.MaxDataRows < p.MinSamples() {
		return fmt.Errorf("max_data_rows must be >= %d to warm up indicators", p.MinSamples())
	}
	if cfg.Simulate && cfg.SimStartingCash <= 0 {
		return errors.New("sim_starting_cash must be > 0")
	}
	if cfg.SaveCharts && cfg.ChartsDir == "" {
		return errors.New("charts_dir is required when save_charts is set")
	}
	return nil
}
