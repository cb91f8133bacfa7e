package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/rs/zerolog"

	"cryptobot/internal/api"
	"cryptobot/internal/broker"
	"cryptobot/internal/chart"
	"cryptobot/internal/config"
	"cryptobot/internal/engine"
	"cryptobot/internal/history"
	"cryptobot/internal/logging"
	"cryptobot/internal/md"
	"cryptobot/internal/state"
	"cryptobot/internal/strategy"
)

const recentOrders = 64

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logging.New("info", nil)
		log.Fatal().Err(err).Msg("config error")
	}
	log := logging.New(cfg.LogLevel, nil)

	if cfg.ProfilingAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "cryptobot",
			ServerAddress:   cfg.ProfilingAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("pyroscope start failed")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot stopped")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("bot shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	instruments := cfg.Symbols()
	configured := make(map[string]broker.Increments, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		configured[inst.Symbol] = broker.FixedIncrements(inst.PriceIncrement, inst.QuantityIncrement)
	}

	var brk broker.Broker
	if cfg.Simulate {
		brk = broker.NewPaper(cfg.SimStartingCash, log)
	} else {
		client := broker.New(cfg.APIKey, cfg.APISecret, cfg.BrokerBaseURL, configured, log)
		if err := client.Login(ctx); err != nil {
			return err
		}
		brk = client
	}

	increments := make(map[string]broker.Increments, len(instruments))
	for _, instrument := range instruments {
		inc, err := brk.Increments(ctx, instrument)
		if err != nil {
			return err
		}
		increments[instrument] = inc
	}

	provider := cfg.MarketData
	if cfg.Simulate {
		provider = md.ProviderSim
	}
	market, err := md.New(md.Options{
		Provider:  provider,
		Symbols:   cfg.FeedSymbols(),
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.MarketDataURL,
		Seed:      cfg.SimSeed,
	}, log)
	if err != nil {
		return err
	}

	params := cfg.StrategyParams()
	buyRule, err := strategy.NewBuyRule(cfg.TradeSignals.Buy, params)
	if err != nil {
		return err
	}
	sellRule, err := strategy.NewSellRule(cfg.TradeSignals.Sell, params)
	if err != nil {
		return err
	}

	var snapshots state.SnapshotStore
	if cfg.PostgresDSN != "" {
		pg, err := state.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		snapshots = pg
	} else {
		snapshots = state.NewFileStore(cfg.SnapshotPath)
	}

	runID := uuid.NewString()
	journal, err := engine.NewJournal(cfg.JournalPath, runID, recentOrders, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close journal")
		}
	}()

	var charts engine.ChartWriter
	if cfg.SaveCharts {
		var opts []chart.Option
		if cfg.ChartsCSV {
			opts = append(opts, chart.WithCSV())
		}
		writer, err := chart.NewWriter(cfg.ChartsDir, opts...)
		if err != nil {
			return err
		}
		charts = writer
	}

	prices := history.NewStore(history.Config{
		Instruments:  instruments,
		TickInterval: cfg.TickInterval,
		Periods:      cfg.Periods,
		FrozenWindow: cfg.FrozenFeedWindow,
	}, log)

	bot := engine.New(cfg, engine.Deps{
		History:    prices,
		Orders:     state.NewStore(),
		Snapshots:  snapshots,
		Market:     market,
		Broker:     brk,
		BuyRule:    buyRule,
		SellRule:   sellRule,
		Journal:    journal,
		Charts:     charts,
		Increments: increments,
	}, log)

	restored, err := bot.Restore(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load snapshot, starting fresh")
	}
	if !restored {
		bot.Backfill(ctx)
	}

	if cfg.StatusAddr != "" {
		handler := api.NewHandler(bot, log)
		go func() {
			if err := handler.Serve(ctx, cfg.StatusAddr); err != nil {
				log.Error().Err(err).Str("addr", cfg.StatusAddr).Msg("status api stopped")
			}
		}()
	}

	log.Info().
		Str("run_id", runID).
		Strs("instruments", instruments).
		Str("market_data", provider).
		Str("buy_rule", buyRule.Name()).
		Str("sell_rule", sellRule.Name()).
		Bool("trades_enabled", cfg.TradesEnabled).
		Bool("simulate", cfg.Simulate).
		Dur("tick_interval", cfg.TickInterval).
		Msg("starting bot")

	return engine.NewScheduler(bot, cfg.TickInterval, log).Run(ctx)
}
