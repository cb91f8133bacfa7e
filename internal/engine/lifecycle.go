package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"cryptobot/internal/broker"
	"cryptobot/internal/history"
	"cryptobot/internal/metrics"
	"cryptobot/internal/risk"
	"cryptobot/internal/state"
)

// CashUnavailable marks a failed buying power lookup.
const CashUnavailable = -1.0

type PriceSource interface {
	Latest(instrument string) (history.Sample, bool)
}

type LifecycleConfig struct {
	BuyAmountPerTrade float64
	Reserve           float64
	TradesEnabled     bool
	CallTimeout       time.Duration
}

// Lifecycle places and cancels orders and is the only writer of the order
// table and available cash.
type Lifecycle struct {
	cfg        LifecycleConfig
	broker     broker.Broker
	orders     *state.Store
	prices     PriceSource
	gate       risk.Gate
	journal    *Journal
	increments map[string]broker.Increments
	log        zerolog.Logger
	now        func() time.Time
}

func NewLifecycle(cfg LifecycleConfig, b broker.Broker, orders *state.Store, prices PriceSource, journal *Journal, increments map[string]broker.Increments, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:        cfg,
		broker:     b,
		orders:     orders,
		prices:     prices,
		gate:       risk.NewGate(log),
		journal:    journal,
		increments: increments,
		log:        log,
		now:        time.Now,
	}
}

func (l *Lifecycle) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.cfg.CallTimeout)
}

// RefreshCash stores buying power minus the reserve rounded to three
// decimals, or CashUnavailable when the broker cannot be reached.
func (l *Lifecycle) RefreshCash(ctx context.Context) float64 {
	callCtx, cancel := l.callCtx(ctx)
	defer cancel()

	cash := CashUnavailable
	buyingPower, err := l.broker.BuyingPower(callCtx)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to read available cash")
	} else {
		cash = roundCash(buyingPower - l.cfg.Reserve)
	}
	l.orders.SetCash(cash)
	metrics.AvailableCash.Set(cash)
	return cash
}

// Reconcile cancels locally tracked orders still open at the broker, then
// refreshes cash. It only runs after a tick submitted an order.
func (l *Lifecycle) Reconcile(ctx context.Context) {
	if !l.orders.Trading().IsNewOrderSubmitted {
		return
	}
	l.log.Info().Msg("checking open orders")

	callCtx, cancel := l.callCtx(ctx)
	open, err := l.broker.OpenOrders(callCtx)
	cancel()
	if err != nil {
		l.log.Error().Err(err).Msg("failed to retrieve open orders")
		open = nil
	}

	for _, order := range open {
		position, tracked := l.orders.Get(order.ID)
		if !tracked {
			continue
		}
		if !l.cancel(ctx, order.ID) {
			continue
		}
		l.orders.Close(order.ID)
		l.journal.Append(Entry{Action: ActionCancel, Instrument: position.Instrument, OrderID: order.ID, Qty: position.Quantity, Price: position.EntryPrice, Reason: "unfilled", Result: ResultCanceled})
		l.log.Info().Str("order_id", order.ID).Str("side", string(order.Side)).Str("instrument", position.Instrument).Msg("order was not filled, cancelled")
	}

	l.RefreshCash(ctx)
	l.orders.SetNewOrderSubmitted(false)
}

func (l *Lifecycle) cancel(ctx context.Context, orderID string) bool {
	callCtx, cancel := l.callCtx(ctx)
	defer cancel()
	if err := l.broker.CancelOrder(callCtx, orderID); err != nil {
		l.log.Warn().Err(err).Str("order_id", orderID).Msg("cancel failed, will try again")
		return false
	}
	return true
}

// Audit closes open positions whose buy order the broker reports as ended
// without a fill.
func (l *Lifecycle) Audit(ctx context.Context) int {
	closed := 0
	for _, position := range l.orders.Positions() {
		if !position.Open() {
			continue
		}
		callCtx, cancel := l.callCtx(ctx)
		order, err := l.broker.Order(callCtx, position.OrderID)
		cancel()
		if err != nil {
			if !errors.Is(err, broker.ErrOrderNotFound) {
				l.log.Warn().Err(err).Str("order_id", position.OrderID).Msg("order audit failed")
			}
			continue
		}
		if !order.Terminal() {
			continue
		}
		l.orders.Close(position.OrderID)
		closed++
		l.journal.Append(Entry{Action: ActionClose, Instrument: position.Instrument, OrderID: position.OrderID, Qty: position.Quantity, Price: position.EntryPrice, Reason: order.Status, Result: ResultRejected})
		l.log.Warn().Str("order_id", position.OrderID).Str("status", order.Status).Str("instrument", position.Instrument).Msg("buy order ended unfilled, position closed")
	}
	return closed
}

// Buy places a limit buy at the latest price. It reports whether an order
// was accepted.
func (l *Lifecycle) Buy(ctx context.Context, instrument string) bool {
	trading := l.orders.Trading()
	if err := l.gate.CheckBuy(risk.BuyContext{
		Instrument: instrument,
		Locked:     trading.IsTradingLocked,
		Cash:       trading.AvailableCash,
		BuyAmount:  l.cfg.BuyAmountPerTrade,
	}); err != nil {
		return false
	}
	latest, ok := l.prices.Latest(instrument)
	if !ok {
		return false
	}
	inc := l.increments[instrument]

	price := FloorToIncrement(latest.Price, inc.Price)
	amount := l.cfg.BuyAmountPerTrade
	if amount == 0 {
		amount = trading.AvailableCash
	}
	var qtyValue float64
	if price.IsPositive() {
		qtyValue = amount / price.InexactFloat64()
	}
	qty := FloorToIncrement(qtyValue, inc.Quantity)
	if err := l.gate.CheckOrder(instrument, qty.InexactFloat64(), price.InexactFloat64()); err != nil {
		return false
	}

	entry := Entry{Action: ActionBuy, Instrument: instrument, Qty: qty.InexactFloat64(), Price: price.InexactFloat64()}
	l.log.Info().Str("instrument", instrument).Str("qty", qty.String()).Str("price", price.String()).Msg("buying")

	if !l.cfg.TradesEnabled {
		entry.Result = ResultDryRun
		l.journal.Append(entry)
		metrics.OrdersTotal.WithLabelValues(instrument, ActionBuy, ResultDryRun).Inc()
		return false
	}

	callCtx, cancel := l.callCtx(ctx)
	order, err := l.broker.PlaceLimitOrder(callCtx, broker.LimitOrder{Instrument: instrument, Side: broker.Buy, Qty: qty, LimitPrice: price})
	cancel()
	if err != nil {
		l.log.Error().Err(err).Str("instrument", instrument).Msg("buy failed, aborting")
		entry.Result = ResultFailed
		entry.Error = err.Error()
		l.journal.Append(entry)
		metrics.OrdersTotal.WithLabelValues(instrument, ActionBuy, ResultFailed).Inc()
		return false
	}

	l.orders.Add(state.Position{
		Instrument: instrument,
		Quantity:   entry.Qty,
		EntryPrice: entry.Price,
		OrderID:    order.ID,
		Status:     state.StatusOpen,
		OpenedAt:   l.now().UTC().Truncate(time.Microsecond),
	})
	cash := roundCash(trading.AvailableCash - qty.Mul(price).InexactFloat64())
	l.orders.SetCash(cash)
	metrics.AvailableCash.Set(cash)
	l.orders.SetNewOrderSubmitted(true)

	entry.OrderID = order.ID
	entry.Result = ResultSubmitted
	l.journal.Append(entry)
	metrics.OrdersTotal.WithLabelValues(instrument, ActionBuy, ResultSubmitted).Inc()
	return true
}

// Sell places a limit sell for the whole position at the latest price. On
// acceptance the position is closed and left for the next sweep.
func (l *Lifecycle) Sell(ctx context.Context, position state.Position, reason string) bool {
	trading := l.orders.Trading()
	if err := l.gate.CheckSell(risk.SellContext{
		Instrument: position.Instrument,
		OrderID:    position.OrderID,
		Locked:     trading.IsTradingLocked,
		Quantity:   position.Quantity,
	}); err != nil {
		return false
	}
	latest, ok := l.prices.Latest(position.Instrument)
	if !ok {
		return false
	}
	inc := l.increments[position.Instrument]
	price := FloorToIncrement(latest.Price, inc.Price)
	if err := l.gate.CheckOrder(position.Instrument, position.Quantity, price.InexactFloat64()); err != nil {
		return false
	}
	profit := roundCash(position.Quantity * (price.InexactFloat64() - position.EntryPrice))

	entry := Entry{
		Action:     ActionSell,
		Instrument: position.Instrument,
		OrderID:    position.OrderID,
		Qty:        position.Quantity,
		Price:      price.InexactFloat64(),
		Profit:     &profit,
		Reason:     reason,
	}
	l.log.Info().Str("instrument", position.Instrument).Float64("qty", position.Quantity).Str("price", price.String()).
		Float64("profit", profit).Str("reason", reason).Msg("selling")

	if !l.cfg.TradesEnabled {
		entry.Result = ResultDryRun
		l.journal.Append(entry)
		metrics.OrdersTotal.WithLabelValues(position.Instrument, ActionSell, ResultDryRun).Inc()
		return false
	}

	callCtx, cancel := l.callCtx(ctx)
	_, err := l.broker.PlaceLimitOrder(callCtx, broker.LimitOrder{
		Instrument: position.Instrument,
		Side:       broker.Sell,
		Qty:        decimalFromFloat(position.Quantity),
		LimitPrice: price,
	})
	cancel()
	if err != nil {
		l.log.Error().Err(err).Str("instrument", position.Instrument).Str("order_id", position.OrderID).Msg("sell failed, aborting")
		entry.Result = ResultFailed
		entry.Error = err.Error()
		l.journal.Append(entry)
		metrics.OrdersTotal.WithLabelValues(position.Instrument, ActionSell, ResultFailed).Inc()
		return false
	}

	l.orders.Close(position.OrderID)
	l.orders.SetNewOrderSubmitted(true)
	entry.Result = ResultSubmitted
	l.journal.Append(entry)
	metrics.OrdersTotal.WithLabelValues(position.Instrument, ActionSell, ResultSubmitted).Inc()
	return true
}

// Sweep drops closed positions and logs a summary of the open ones.
func (l *Lifecycle) Sweep() []state.Position {
	removed, open := l.orders.Sweep()
	if removed > 0 {
		l.log.Debug().Int("removed", removed).Msg("closed positions swept")
	}
	for _, p := range open {
		event := l.log.Info().
			Str("order_id", p.OrderID).
			Str("instrument", p.Instrument).
			Float64("qty", p.Quantity).
			Float64("price", p.EntryPrice).
			Float64("cost", roundCash(p.Quantity*p.EntryPrice))
		if latest, ok := l.prices.Latest(p.Instrument); ok {
			event = event.Float64("current_value", roundCash(p.Quantity*latest.Price))
		}
		event.Msg("asset")
	}
	metrics.OpenPositions.Set(float64(len(open)))
	return open
}
