package engine

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"cryptobot/internal/broker"
	"cryptobot/internal/md"
	"cryptobot/internal/state"
	"cryptobot/internal/strategy"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) BuyingPower(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockBroker) Increments(ctx context.Context, instrument string) (broker.Increments, error) {
	args := m.Called(ctx, instrument)
	return args.Get(0).(broker.Increments), args.Error(1)
}

func (m *mockBroker) PlaceLimitOrder(ctx context.Context, req broker.LimitOrder) (broker.Order, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(broker.Order), args.Error(1)
}

func (m *mockBroker) CancelOrder(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *mockBroker) OpenOrders(ctx context.Context) ([]broker.Order, error) {
	args := m.Called(ctx)
	orders, _ := args.Get(0).([]broker.Order)
	return orders, args.Error(1)
}

func (m *mockBroker) Order(ctx context.Context, orderID string) (broker.Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(broker.Order), args.Error(1)
}

// fakeMarket returns scripted ticker prices.
type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
	bars   map[string][]md.Bar
	err    error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{prices: map[string]float64{}, bars: map[string][]md.Bar{}}
}

func (f *fakeMarket) OHLC(ctx context.Context, instrument string, interval time.Duration) ([]md.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bars, ok := f.bars[instrument]
	if !ok {
		return nil, md.ErrNoData
	}
	return bars, nil
}

func (f *fakeMarket) Ticker(ctx context.Context, instrument string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	price, ok := f.prices[instrument]
	if !ok {
		return 0, md.ErrNoData
	}
	return price, nil
}

func (f *fakeMarket) set(instrument string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[instrument] = price
}

type countingBuyRule struct {
	calls  int
	signal bool
}

func (c *countingBuyRule) Name() string { return "counting" }

func (c *countingBuyRule) BuySignal(instrument string, h strategy.History) bool {
	c.calls++
	return c.signal
}

type fixedSellRule struct {
	signal bool
}

func (fixedSellRule) Name() string { return "fixed" }

func (f fixedSellRule) SellSignal(state.Position, strategy.History) bool { return f.signal }
