// Package engine runs the trading loop: one tick ingests prices, gates on
// data quality, reconciles orders, evaluates sells then buys, and persists.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"cryptobot/internal/broker"
	"cryptobot/internal/config"
	"cryptobot/internal/history"
	"cryptobot/internal/md"
	"cryptobot/internal/metrics"
	"cryptobot/internal/risk"
	"cryptobot/internal/state"
	"cryptobot/internal/strategy"
)

type ChartWriter interface {
	Write(instrument string, samples []history.Sample) error
}

type Deps struct {
	History    *history.Store
	Orders     *state.Store
	Snapshots  state.SnapshotStore
	Market     md.Provider
	Broker     broker.Broker
	BuyRule    strategy.BuyRule
	SellRule   strategy.SellRule
	Journal    *Journal
	Charts     ChartWriter
	Increments map[string]broker.Increments
}

type Engine struct {
	cfg       config.Config
	history   *history.Store
	orders    *state.Store
	snapshots state.SnapshotStore
	market    md.Provider
	broker    broker.Broker
	lifecycle *Lifecycle
	buyRule   strategy.BuyRule
	sellRule  strategy.SellRule
	journal   *Journal
	charts    ChartWriter
	log       zerolog.Logger
	ticks     atomic.Int64
	lastTick  atomic.Int64
	now       func() time.Time
}

func New(cfg config.Config, deps Deps, log zerolog.Logger) *Engine {
	lifecycle := NewLifecycle(LifecycleConfig{
		BuyAmountPerTrade: cfg.BuyAmountPerTrade,
		Reserve:           cfg.Reserve,
		TradesEnabled:     cfg.TradesEnabled,
		CallTimeout:       cfg.CallTimeout,
	}, deps.Broker, deps.Orders, deps.History, deps.Journal, deps.Increments, log)

	return &Engine{
		cfg:       cfg,
		history:   deps.History,
		orders:    deps.Orders,
		snapshots: deps.Snapshots,
		market:    deps.Market,
		broker:    deps.Broker,
		lifecycle: lifecycle,
		buyRule:   deps.BuyRule,
		sellRule:  deps.SellRule,
		journal:   deps.Journal,
		charts:    deps.Charts,
		log:       log,
		now:       time.Now,
	}
}

func (e *Engine) Lifecycle() *Lifecycle { return e.lifecycle }

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

// Restore loads the last snapshot. It reports false when none exists.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	if e.snapshots == nil {
		return false, nil
	}
	snapshot, found, err := e.snapshots.Load(ctx)
	if err != nil || !found {
		return false, err
	}
	e.orders.Restore(snapshot.Orders)
	e.history.Restore(snapshot.History)
	e.log.Info().Int("orders", len(snapshot.Orders)).Time("saved_at", snapshot.SavedAt).Msg("snapshot restored")
	return true, nil
}

// Backfill seeds each instrument's history from the provider's OHLC data.
// Instruments without data are skipped.
func (e *Engine) Backfill(ctx context.Context) {
	for _, instrument := range e.history.Instruments() {
		callCtx, cancel := e.callCtx(ctx)
		bars, err := e.market.OHLC(callCtx, instrument, e.cfg.TickInterval)
		cancel()
		if err != nil {
			if errors.Is(err, md.ErrNoData) {
				e.log.Warn().Str("instrument", instrument).Msg("no historical data available")
			} else {
				e.log.Error().Err(err).Str("instrument", instrument).Msg("failed to backfill history")
			}
			continue
		}
		points := make([]history.Point, 0, len(bars))
		for _, bar := range bars {
			points = append(points, history.Point{Timestamp: bar.Timestamp, Price: bar.Close})
		}
		added := e.history.Seed(instrument, points)
		e.log.Info().Str("instrument", instrument).Int("samples", added).Msg("history backfilled")
	}
	e.history.Trim(e.cfg.MaxDataRows)
}

// Tick runs one iteration. External failures are logged and never returned.
func (e *Engine) Tick(ctx context.Context) {
	start := e.now()
	now := start.UTC().Truncate(time.Microsecond)
	n := e.ticks.Add(1)
	e.lastTick.Store(now.UnixNano())

	fetchFailed := e.ingest(ctx, now)

	locked := fetchFailed || !e.history.IsContinuous(now)
	e.orders.SetLocked(locked)
	metrics.SetLocked(locked)
	if locked {
		e.log.Warn().Bool("fetch_failed", fetchFailed).Msg("holding trades: price data incomplete")
	}

	pending := e.orders.Trading().IsNewOrderSubmitted
	e.lifecycle.Reconcile(ctx)
	if e.cfg.ReconcileEvery > 0 && n%int64(e.cfg.ReconcileEvery) == 0 {
		if closed := e.lifecycle.Audit(ctx); closed > 0 {
			e.log.Info().Int("closed", closed).Msg("order audit closed positions")
		}
	}

	e.evaluateSells(ctx)
	if !pending {
		e.evaluateBuys(ctx)
	}

	e.history.Trim(e.cfg.MaxDataRows)
	e.writeCharts()
	e.logStatus()
	e.persist(ctx, now)

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(e.now().Sub(start).Seconds())
}

// ingest fetches the latest price of every instrument and appends what was
// received. It reports whether any fetch failed.
func (e *Engine) ingest(ctx context.Context, now time.Time) bool {
	prices := make(map[string]float64)
	failed := false
	for _, instrument := range e.history.Instruments() {
		callCtx, cancel := e.callCtx(ctx)
		price, err := e.market.Ticker(callCtx, instrument)
		cancel()
		if err != nil {
			e.log.Error().Err(err).Str("instrument", instrument).Msg("failed to retrieve price")
			failed = true
			continue
		}
		if !md.ValidPrice(price) {
			e.log.Error().Float64("price", price).Str("instrument", instrument).Msg("invalid price received")
			failed = true
			continue
		}
		prices[instrument] = price
	}
	if len(prices) == 0 {
		return failed
	}
	e.history.Append(now, prices)
	if observer, ok := e.broker.(broker.PriceObserver); ok {
		for instrument, price := range prices {
			observer.ObservePrice(instrument, price)
		}
	}
	return failed
}

func (e *Engine) evaluateSells(ctx context.Context) {
	for _, position := range e.lifecycle.Sweep() {
		latest, ok := e.history.Latest(position.Instrument)
		if !ok {
			continue
		}
		reason := ""
		switch {
		case e.sellRule.SellSignal(position, e.history):
			reason = e.sellRule.Name()
		case risk.StopLossTriggered(position.EntryPrice, latest.Price, e.cfg.StopLossThreshold):
			reason = "stop_loss"
		default:
			continue
		}
		e.lifecycle.Sell(ctx, position, reason)
	}
}

func (e *Engine) evaluateBuys(ctx context.Context) {
	if e.orders.Trading().AvailableCash < 0 {
		e.lifecycle.RefreshCash(ctx)
	}
	// A sell placed earlier in this tick defers buys as well.
	if e.orders.Trading().IsNewOrderSubmitted {
		return
	}
	for _, instrument := range e.history.Instruments() {
		if e.buyRule.BuySignal(instrument, e.history) {
			e.lifecycle.Buy(ctx, instrument)
		}
	}
}

func (e *Engine) writeCharts() {
	if !e.cfg.SaveCharts || e.charts == nil {
		return
	}
	for _, instrument := range e.history.Instruments() {
		if err := e.charts.Write(instrument, e.history.Series(instrument)); err != nil {
			e.log.Warn().Err(err).Str("instrument", instrument).Msg("failed to write chart")
		}
	}
}

func (e *Engine) logStatus() {
	trading := e.orders.Trading()
	event := e.log.Info().
		Float64("buying_power", trading.AvailableCash).
		Bool("locked", trading.IsTradingLocked).
		Bool("order_pending", trading.IsNewOrderSubmitted)
	for _, instrument := range e.history.Instruments() {
		if latest, ok := e.history.Latest(instrument); ok {
			event = event.Float64(instrument, latest.Price)
		}
	}
	event.Msg("iteration completed")
}

func (e *Engine) persist(ctx context.Context, now time.Time) {
	if e.snapshots == nil {
		return
	}
	snapshot := state.Snapshot{
		Orders:  e.orders.Orders(),
		History: e.history.Export(),
		SavedAt: now,
	}
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.snapshots.Save(callCtx, snapshot); err != nil {
		e.log.Error().Err(err).Msg("failed to save snapshot")
	}
}

// Status is a read-only view of the session for the status API.
type Status struct {
	Trading  state.TradingState        `json:"trading"`
	Ticks    int64                     `json:"ticks"`
	LastTick *time.Time                `json:"last_tick,omitempty"`
	Latest   map[string]history.Sample `json:"latest"`
	Recent   []Entry                   `json:"recent_orders"`
}

func (e *Engine) Status() Status {
	status := Status{
		Trading: e.orders.Trading(),
		Ticks:   e.ticks.Load(),
		Latest:  map[string]history.Sample{},
		Recent:  e.journal.Recent(),
	}
	if ns := e.lastTick.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		status.LastTick = &t
	}
	for _, instrument := range e.history.Instruments() {
		if latest, ok := e.history.Latest(instrument); ok {
			status.Latest[instrument] = latest
		}
	}
	return status
}

func (e *Engine) Positions() []state.Position {
	return e.orders.Positions()
}
