package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobot/internal/history"
	"cryptobot/internal/state"
)

type fakeHistory map[string][]history.Sample

func (f fakeHistory) Latest(instrument string) (history.Sample, bool) {
	s := f[instrument]
	if len(s) == 0 {
		return history.Sample{}, false
	}
	return s[len(s)-1], true
}

func (f fakeHistory) Tail(instrument string, n int) []history.Sample {
	s := f[instrument]
	if n < len(s) {
		s = s[len(s)-n:]
	}
	return s
}

func ptr(v float64) *float64 { return &v }

func TestSMARSIThresholdBuySignal(t *testing.T) {
	rule := SMARSIThreshold{BelowMovingAverage: 0.01, RSIThreshold: 30}
	cases := []struct {
		name   string
		sample history.Sample
		want   bool
	}{
		{"all conditions hold", history.Sample{Price: 98, SMAFast: ptr(101), SMASlow: ptr(100), RSI: ptr(25)}, true},
		{"price not far enough below", history.Sample{Price: 99.5, SMAFast: ptr(101), SMASlow: ptr(100), RSI: ptr(25)}, false},
		{"fast below slow", history.Sample{Price: 98, SMAFast: ptr(99), SMASlow: ptr(100), RSI: ptr(25)}, false},
		{"rsi too high", history.Sample{Price: 98, SMAFast: ptr(101), SMASlow: ptr(100), RSI: ptr(30)}, false},
		{"indicators undefined", history.Sample{Price: 98}, false},
		{"rsi undefined", history.Sample{Price: 98, SMAFast: ptr(101), SMASlow: ptr(100)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := fakeHistory{"ETH": {tc.sample}}
			assert.Equal(t, tc.want, rule.BuySignal("ETH", h))
		})
	}
	assert.False(t, rule.BuySignal("BTC", fakeHistory{}), "no history")
}

func TestAboveBuySellSignal(t *testing.T) {
	pos := state.Position{Instrument: "ETH", EntryPrice: 100, Quantity: 1, Status: state.StatusOpen}
	assert.True(t, AboveBuy{}.SellSignal(pos, fakeHistory{"ETH": {{Price: 100.01}}}))
	assert.False(t, AboveBuy{}.SellSignal(pos, fakeHistory{"ETH": {{Price: 100}}}))
	assert.False(t, AboveBuy{}.SellSignal(pos, fakeHistory{}))
}

func TestProfitTargetSellSignal(t *testing.T) {
	rule := ProfitTarget{Percentage: 0.05}
	pos := state.Position{Instrument: "ETH", EntryPrice: 100}
	assert.True(t, rule.SellSignal(pos, fakeHistory{"ETH": {{Price: 105}}}))
	assert.False(t, rule.SellSignal(pos, fakeHistory{"ETH": {{Price: 104.9}}}))
}

func TestMACDRSICrossover(t *testing.T) {
	rule := MACDRSI{RSIThreshold: 40}
	crossing := fakeHistory{"ETH": {
		{MACD: ptr(-1), MACDSignal: ptr(-0.5)},
		{MACD: ptr(0.2), MACDSignal: ptr(0.1), RSI: ptr(35)},
	}}
	assert.True(t, rule.BuySignal("ETH", crossing))

	already := fakeHistory{"ETH": {
		{MACD: ptr(1), MACDSignal: ptr(0.5)},
		{MACD: ptr(1.2), MACDSignal: ptr(0.6), RSI: ptr(35)},
	}}
	assert.False(t, rule.BuySignal("ETH", already), "no crossover")

	assert.False(t, rule.BuySignal("ETH", fakeHistory{"ETH": {{MACD: ptr(1), MACDSignal: ptr(0), RSI: ptr(1)}}}), "needs two samples")
}

func TestMACDCrossDownNeedsProfit(t *testing.T) {
	h := fakeHistory{"ETH": {
		{Price: 110, MACD: ptr(1), MACDSignal: ptr(0.5)},
		{Price: 110, MACD: ptr(0.4), MACDSignal: ptr(0.5)},
	}}
	assert.True(t, MACDCrossDown{}.SellSignal(state.Position{Instrument: "ETH", EntryPrice: 100}, h))
	assert.False(t, MACDCrossDown{}.SellSignal(state.Position{Instrument: "ETH", EntryPrice: 120}, h))
}

func TestRegistry(t *testing.T) {
	buy, err := NewBuyRule(DefaultBuyRule, Params{RSIThreshold: 30})
	require.NoError(t, err)
	assert.Equal(t, DefaultBuyRule, buy.Name())

	sell, err := NewSellRule(DefaultSellRule, Params{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSellRule, sell.Name())

	_, err = NewBuyRule("moon", Params{})
	assert.ErrorContains(t, err, "unknown buy rule")
	_, err = NewSellRule("moon", Params{})
	assert.ErrorContains(t, err, "unknown sell rule")

	assert.Equal(t, []string{"macd_rsi", "sma_rsi_threshold"}, BuyRuleNames())
	assert.Equal(t, []string{"above_buy", "macd_cross_down", "profit_target"}, SellRuleNames())
}

func TestRulesDoNotMutateHistory(t *testing.T) {
	h := fakeHistory{"ETH": {{Price: 98, SMAFast: ptr(101), SMASlow: ptr(100), RSI: ptr(25)}}}
	before := *h["ETH"][0].SMASlow
	SMARSIThreshold{BelowMovingAverage: 0.01, RSIThreshold: 30}.BuySignal("ETH", h)
	assert.Equal(t, before, *h["ETH"][0].SMASlow)
	assert.Len(t, h["ETH"], 1)
}
