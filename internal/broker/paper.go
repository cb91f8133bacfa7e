package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const paperIncrement = 0.0001

const epsilon = 1e-9

// Paper is an in-memory brokerage for simulation mode. Limit orders rest
// until an observed price crosses the limit, then fill completely.
type Paper struct {
	mu       sync.Mutex
	cash     float64
	reserved float64
	holdings map[string]float64
	orders   map[string]*Order
	log      zerolog.Logger
}

func NewPaper(startingCash float64, log zerolog.Logger) *Paper {
	return &Paper{
		cash:     startingCash,
		holdings: make(map[string]float64),
		orders:   make(map[string]*Order),
		log:      log,
	}
}

func (p *Paper) BuyingPower(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash - p.reserved, nil
}

func (p *Paper) Increments(ctx context.Context, instrument string) (Increments, error) {
	if err := ctx.Err(); err != nil {
		return Increments{}, err
	}
	return FixedIncrements(paperIncrement, paperIncrement), nil
}

func (p *Paper) PlaceLimitOrder(ctx context.Context, req LimitOrder) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	qty := req.Qty.InexactFloat64()
	price := req.LimitPrice.InexactFloat64()
	if qty <= 0 {
		return Order{}, errors.New("quantity must be positive")
	}
	if price <= 0 {
		return Order{}, errors.New("price must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Side {
	case Buy:
		notional := qty * price
		if notional > p.cash-p.reserved+epsilon {
			return Order{}, errors.New("insufficient buying power")
		}
		p.reserved += notional
	case Sell:
		if p.available(req.Instrument)+epsilon < qty {
			return Order{}, errors.New("insufficient position to sell")
		}
	default:
		return Order{}, fmt.Errorf("unknown order side %q", req.Side)
	}

	order := &Order{
		ID:         uuid.NewString(),
		Instrument: req.Instrument,
		Side:       req.Side,
		Status:     StatusNew,
		Qty:        qty,
		LimitPrice: price,
	}
	order.ClientOrderID = order.ID
	p.orders[order.ID] = order
	p.log.Info().Str("order_id", order.ID).Str("side", string(req.Side)).Str("instrument", req.Instrument).
		Float64("qty", qty).Float64("limit", price).Msg("paper order accepted")
	return *order, nil
}

// available is the holding not already committed to resting sells.
func (p *Paper) available(instrument string) float64 {
	held := p.holdings[instrument]
	for _, o := range p.orders {
		if o.Status == StatusNew && o.Side == Sell && o.Instrument == instrument {
			held -= o.Qty
		}
	}
	return held
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status != StatusNew {
		return fmt.Errorf("order %s is %s", orderID, order.Status)
	}
	if order.Side == Buy {
		p.reserved -= order.Qty * order.LimitPrice
	}
	order.Status = StatusCanceled
	return nil
}

func (p *Paper) OpenOrders(ctx context.Context) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range p.orders {
		if o.Status == StatusNew {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (p *Paper) Order(ctx context.Context, orderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return *order, nil
}

// ObservePrice fills resting orders the price has crossed.
func (p *Paper) ObservePrice(instrument string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range p.orders {
		if o.Status != StatusNew || o.Instrument != instrument {
			continue
		}
		switch {
		case o.Side == Buy && price <= o.LimitPrice:
			notional := o.Qty * o.LimitPrice
			p.reserved -= notional
			p.cash -= notional
			p.holdings[instrument] += o.Qty
		case o.Side == Sell && price >= o.LimitPrice:
			p.cash += o.Qty * o.LimitPrice
			p.holdings[instrument] -= o.Qty
		default:
			continue
		}
		o.Status = StatusFilled
		o.FilledQty = o.Qty
		p.log.Info().Str("order_id", o.ID).Str("side", string(o.Side)).Str("instrument", instrument).
			Float64("qty", o.Qty).Float64("price", o.LimitPrice).Msg("paper order filled")
	}
}

// Holding returns the filled quantity held for instrument.
func (p *Paper) Holding(instrument string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return decimal.NewFromFloat(p.holdings[instrument]).Round(7).InexactFloat64()
}
