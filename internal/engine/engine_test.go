package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cryptobot/internal/broker"
	"cryptobot/internal/config"
	"cryptobot/internal/md"
	"cryptobot/internal/state"
	"cryptobot/internal/strategy"
)

type engineFixture struct {
	engine  *Engine
	broker  *mockBroker
	market  *fakeMarket
	orders  *state.Store
	buyRule *countingBuyRule
	clock   time.Time
}

func (f *engineFixture) tick() {
	f.clock = f.clock.Add(testInterval)
	f.engine.Tick(context.Background())
}

func newEngineFixture(t *testing.T, sell strategy.SellRule, snapshots state.SnapshotStore) *engineFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Instruments = []config.Instrument{{Symbol: testInstrument}}
	cfg.TradesEnabled = true
	cfg.Periods = testPeriods
	cfg.TickInterval = testInterval
	cfg.CallTimeout = time.Second
	cfg.ReconcileEvery = 0
	cfg.SaveCharts = false
	cfg.MaxDataRows = 100
	cfg.StopLossThreshold = 0.3

	journal, err := NewJournal("", "test", 32, zerolog.Nop())
	require.NoError(t, err)

	f := &engineFixture{
		broker:  &mockBroker{},
		market:  newFakeMarket(),
		orders:  state.NewStore(),
		buyRule: &countingBuyRule{},
	}
	f.orders.SetNewOrderSubmitted(false)
	hist := newTestHistory(100, 101, 102, 103, 104)
	f.clock = testStart.Add(4 * testInterval)

	f.engine = New(cfg, Deps{
		History:    hist,
		Orders:     f.orders,
		Snapshots:  snapshots,
		Market:     f.market,
		Broker:     f.broker,
		BuyRule:    f.buyRule,
		SellRule:   sell,
		Journal:    journal,
		Increments: testIncrements(),
	}, zerolog.Nop())
	f.engine.now = func() time.Time { return f.clock }
	f.engine.lifecycle.now = f.engine.now
	return f
}

func TestTickStopLossOverridesSellRule(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{signal: false}, nil)
	f.orders.Add(state.Position{Instrument: testInstrument, Quantity: 1, EntryPrice: 100, OrderID: "o1", Status: state.StatusOpen})
	f.market.set(testInstrument, 65)
	f.broker.On("PlaceLimitOrder", mock.Anything, orderMatching(broker.Sell, "1", "65")).
		Return(broker.Order{ID: "s1"}, nil).Once()

	f.tick()

	f.broker.AssertExpectations(t)
	position, ok := f.orders.Get("o1")
	require.True(t, ok)
	assert.Equal(t, state.StatusClosed, position.Status)
	recent := f.engine.journal.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "stop_loss", recent[0].Reason)
}

func TestTickAfterSellSkipsBuysUntilReconciled(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{signal: true}, nil)
	f.orders.Add(state.Position{Instrument: testInstrument, Quantity: 1, EntryPrice: 100, OrderID: "o1", Status: state.StatusOpen})
	f.market.set(testInstrument, 110)
	f.broker.On("PlaceLimitOrder", mock.Anything, orderMatching(broker.Sell, "1", "110")).
		Return(broker.Order{ID: "s1"}, nil).Once()

	f.tick()
	assert.Equal(t, 0, f.buyRule.calls, "buy evaluation is skipped after a new order")
	assert.True(t, f.orders.Trading().IsNewOrderSubmitted)

	f.broker.On("OpenOrders", mock.Anything).Return([]broker.Order{}, nil).Once()
	f.broker.On("BuyingPower", mock.Anything).Return(1000.0, nil).Once()
	f.market.set(testInstrument, 111)

	f.tick()
	f.broker.AssertExpectations(t)
	assert.Equal(t, 0, f.buyRule.calls, "the reconciling tick does not buy")
	assert.False(t, f.orders.Trading().IsNewOrderSubmitted)
	assert.Equal(t, 1000.0, f.orders.Trading().AvailableCash)
	_, ok := f.orders.Get("o1")
	assert.False(t, ok, "closed position swept on the next tick")

	f.market.set(testInstrument, 112)
	f.tick()
	assert.Equal(t, 1, f.buyRule.calls)
}

func TestTickAfterBuySkipsBuyEvaluation(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.buyRule.signal = true
	f.orders.SetCash(1000)
	f.market.set(testInstrument, 50)
	f.broker.On("PlaceLimitOrder", mock.Anything, orderMatching(broker.Buy, "20", "50")).
		Return(broker.Order{ID: "b1"}, nil).Once()

	f.tick()
	require.Equal(t, 1, f.buyRule.calls)
	require.True(t, f.orders.Trading().IsNewOrderSubmitted)

	f.broker.On("OpenOrders", mock.Anything).Return([]broker.Order{}, nil).Once()
	f.broker.On("BuyingPower", mock.Anything).Return(0.0, nil).Once()
	f.market.set(testInstrument, 51)

	f.tick()
	f.broker.AssertExpectations(t)
	assert.Equal(t, 1, f.buyRule.calls, "buy evaluation skipped on the tick after a buy")
	assert.Equal(t, 1, f.orders.OpenCount())
	assert.False(t, f.orders.Trading().IsNewOrderSubmitted)
}

func TestTickBuysWhenSignalled(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.buyRule.signal = true
	f.orders.SetCash(1000)
	f.market.set(testInstrument, 50)
	f.broker.On("PlaceLimitOrder", mock.Anything, orderMatching(broker.Buy, "20", "50")).
		Return(broker.Order{ID: "b1"}, nil).Once()

	f.tick()

	f.broker.AssertExpectations(t)
	assert.Equal(t, 1, f.orders.OpenCount())
	assert.True(t, f.orders.Trading().IsNewOrderSubmitted)
}

func TestTickFetchFailureLocksTrading(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.buyRule.signal = true
	f.orders.SetCash(1000)
	f.market.err = errors.New("connection reset")

	f.tick()

	assert.True(t, f.orders.Trading().IsTradingLocked)
	assert.Equal(t, 5, f.engine.history.Len(testInstrument))
	f.broker.AssertNotCalled(t, "PlaceLimitOrder", mock.Anything, mock.Anything)
}

func TestTickLocksOnGap(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.market.set(testInstrument, 105)
	f.clock = f.clock.Add(2 * testInterval)

	f.tick()
	assert.True(t, f.orders.Trading().IsTradingLocked)

	f.market.set(testInstrument, 106)
	f.tick()
	f.market.set(testInstrument, 107)
	f.tick()
	assert.False(t, f.orders.Trading().IsTradingLocked, "gap leaves the warm-up window")
}

func TestTickRetriesCashWhenUnavailable(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.orders.SetCash(CashUnavailable)
	f.market.set(testInstrument, 105)
	f.broker.On("BuyingPower", mock.Anything).Return(250.0, nil).Once()

	f.tick()
	f.broker.AssertExpectations(t)
	assert.Equal(t, 250.0, f.orders.Trading().AvailableCash)
}

func TestTickPersistsAndRestores(t *testing.T) {
	snapshots := state.NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	f := newEngineFixture(t, fixedSellRule{}, snapshots)
	f.orders.Add(state.Position{Instrument: testInstrument, Quantity: 1, EntryPrice: 100, OrderID: "o1", Status: state.StatusOpen})
	f.market.set(testInstrument, 105)

	f.tick()
	f.broker.AssertNotCalled(t, "PlaceLimitOrder", mock.Anything, mock.Anything)

	restored := newEngineFixture(t, fixedSellRule{}, snapshots)
	restored.orders.Restore(nil)
	found, err := restored.engine.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 6, restored.engine.history.Len(testInstrument))
	_, ok := restored.orders.Get("o1")
	assert.True(t, ok)
}

func TestBackfillSeedsHistory(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.engine.history.Restore(nil)
	base := testStart.Add(-time.Hour)
	f.market.bars[testInstrument] = []md.Bar{
		{Timestamp: base, Close: 10},
		{Timestamp: base.Add(testInterval), Close: 11},
		{Timestamp: base.Add(2 * testInterval), Close: 12},
	}

	f.engine.Backfill(context.Background())
	assert.Equal(t, 3, f.engine.history.Len(testInstrument))
}

func TestStatusReflectsSession(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.market.set(testInstrument, 105)
	f.tick()

	status := f.engine.Status()
	assert.Equal(t, int64(1), status.Ticks)
	require.NotNil(t, status.LastTick)
	assert.Equal(t, 105.0, status.Latest[testInstrument].Price)
	assert.False(t, status.Trading.IsTradingLocked)
}

func TestTickStampsSamplesAtMicrosecondPrecision(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.clock = f.clock.Add(1500 * time.Nanosecond)
	f.market.set(testInstrument, 105)

	f.tick()

	latest, ok := f.engine.history.Latest(testInstrument)
	require.True(t, ok)
	assert.Equal(t, f.clock.UTC().Truncate(time.Microsecond), latest.Timestamp)
	assert.Equal(t, 0, latest.Timestamp.Nanosecond()%1000)
}

func TestTickInvalidPriceLocksTrading(t *testing.T) {
	f := newEngineFixture(t, fixedSellRule{}, nil)
	f.market.set(testInstrument, math.NaN())

	f.tick()

	assert.True(t, f.orders.Trading().IsTradingLocked)
	assert.Equal(t, 5, f.engine.history.Len(testInstrument))
}
