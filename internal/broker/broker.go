// Package broker defines the brokerage operations the order lifecycle needs
// and ships an Alpaca adapter plus an in-memory paper brokerage.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

const (
	StatusNew      = "new"
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusRejected = "rejected"
)

var ErrOrderNotFound = errors.New("order not found")

// Increments are the smallest price and quantity steps the venue accepts.
type Increments struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type LimitOrder struct {
	Instrument string
	Side       Side
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal
}

type Order struct {
	ID            string
	ClientOrderID string
	Instrument    string
	Side          Side
	Status        string
	Qty           float64
	FilledQty     float64
	LimitPrice    float64
}

// Terminal reports whether the order ended without any fill.
func (o Order) Terminal() bool {
	switch o.Status {
	case StatusCanceled, StatusExpired, StatusRejected:
		return o.FilledQty == 0
	}
	return false
}

type Broker interface {
	BuyingPower(ctx context.Context) (float64, error)
	Increments(ctx context.Context, instrument string) (Increments, error)
	PlaceLimitOrder(ctx context.Context, req LimitOrder) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]Order, error)
	Order(ctx context.Context, orderID string) (Order, error)
}

// PriceObserver is implemented by brokers that settle orders against the
// prices the loop ingests.
type PriceObserver interface {
	ObservePrice(instrument string, price float64)
}
