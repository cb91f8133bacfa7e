// Package risk holds the preconditions every order must pass and the
// stop-loss rule.
package risk

import (
	"errors"

	"github.com/rs/zerolog"
)

var (
	ErrTradingLocked    = errors.New("trading_locked")
	ErrNoCash           = errors.New("no_cash_available")
	ErrInsufficientCash = errors.New("insufficient_cash")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrNoPositionToSell = errors.New("no_position_to_sell")
)

type BuyContext struct {
	Instrument string
	Locked     bool
	Cash       float64
	BuyAmount  float64
}

type SellContext struct {
	Instrument string
	OrderID    string
	Locked     bool
	Quantity   float64
}

type Gate struct {
	log zerolog.Logger
}

func NewGate(log zerolog.Logger) Gate {
	return Gate{log: log}
}

// CheckBuy rejects a buy when trading is locked or cash cannot cover the
// configured amount. A BuyAmount of zero spends all available cash.
func (g Gate) CheckBuy(ctx BuyContext) error {
	if ctx.Locked {
		return g.reject(ErrTradingLocked, ctx.Instrument)
	}
	if ctx.Cash <= 0 {
		g.log.Info().Str("reason", ErrNoCash.Error()).Str("instrument", ctx.Instrument).Float64("cash", ctx.Cash).Msg("risk rejected")
		return ErrNoCash
	}
	if ctx.Cash < ctx.BuyAmount {
		g.log.Info().Str("reason", ErrInsufficientCash.Error()).Str("instrument", ctx.Instrument).
			Float64("cash", ctx.Cash).Float64("buy_amount", ctx.BuyAmount).Msg("risk rejected")
		return ErrInsufficientCash
	}
	return nil
}

func (g Gate) CheckSell(ctx SellContext) error {
	if ctx.Locked {
		return g.reject(ErrTradingLocked, ctx.Instrument)
	}
	if ctx.Quantity <= 0 {
		g.log.Info().Str("reason", ErrNoPositionToSell.Error()).Str("instrument", ctx.Instrument).Str("order_id", ctx.OrderID).Msg("risk rejected")
		return ErrNoPositionToSell
	}
	return nil
}

// CheckOrder validates the rounded order parameters.
func (g Gate) CheckOrder(instrument string, qty, price float64) error {
	if price <= 0 {
		g.log.Info().Str("reason", ErrInvalidPrice.Error()).Str("instrument", instrument).Float64("price", price).Msg("risk rejected")
		return ErrInvalidPrice
	}
	if qty <= 0 {
		g.log.Info().Str("reason", ErrInvalidQuantity.Error()).Str("instrument", instrument).Float64("qty", qty).Msg("risk rejected")
		return ErrInvalidQuantity
	}
	return nil
}

func (g Gate) reject(err error, instrument string) error {
	g.log.Info().Str("reason", err.Error()).Str("instrument", instrument).Msg("risk rejected")
	return err
}

// StopLossTriggered reports whether price has fallen to or below
// entry * (1 - threshold). A non-positive threshold disables the rule.
func StopLossTriggered(entry, price, threshold float64) bool {
	if threshold <= 0 || entry <= 0 {
		return false
	}
	return price <= entry*(1-threshold)
}
