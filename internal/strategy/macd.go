package strategy

import (
	"cryptobot/internal/history"
	"cryptobot/internal/state"
)

// MACDRSI buys on a bullish MACD crossover while RSI is under the threshold.
type MACDRSI struct {
	RSIThreshold float64
}

func (MACDRSI) Name() string { return "macd_rsi" }

func (m MACDRSI) BuySignal(instrument string, h History) bool {
	prev, cur, ok := lastTwo(h, instrument)
	if !ok || cur.RSI == nil {
		return false
	}
	return crossedAbove(prev, cur) && *cur.RSI < m.RSIThreshold
}

// MACDCrossDown takes profit when MACD turns down through its signal line.
type MACDCrossDown struct{}

func (MACDCrossDown) Name() string { return "macd_cross_down" }

func (MACDCrossDown) SellSignal(position state.Position, h History) bool {
	prev, cur, ok := lastTwo(h, position.Instrument)
	if !ok || cur.Price <= position.EntryPrice {
		return false
	}
	return crossedBelow(prev, cur)
}

func lastTwo(h History, instrument string) (history.Sample, history.Sample, bool) {
	tail := h.Tail(instrument, 2)
	if len(tail) < 2 {
		return history.Sample{}, history.Sample{}, false
	}
	prev, cur := tail[0], tail[1]
	if prev.MACD == nil || prev.MACDSignal == nil || cur.MACD == nil || cur.MACDSignal == nil {
		return history.Sample{}, history.Sample{}, false
	}
	return prev, cur, true
}

func crossedAbove(prev, cur history.Sample) bool {
	return *prev.MACD <= *prev.MACDSignal && *cur.MACD > *cur.MACDSignal
}

func crossedBelow(prev, cur history.Sample) bool {
	return *prev.MACD >= *prev.MACDSignal && *cur.MACD < *cur.MACDSignal
}
