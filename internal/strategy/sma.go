package strategy

import "cryptobot/internal/state"

// SMARSIThreshold buys a dip below the slow average while the fast average
// is still above it and RSI is under the threshold.
type SMARSIThreshold struct {
	BelowMovingAverage float64
	RSIThreshold       float64
}

func (SMARSIThreshold) Name() string { return "sma_rsi_threshold" }

func (s SMARSIThreshold) BuySignal(instrument string, h History) bool {
	latest, ok := h.Latest(instrument)
	if !ok || latest.SMAFast == nil || latest.SMASlow == nil || latest.RSI == nil {
		return false
	}
	slow := *latest.SMASlow
	return latest.Price < slow*(1-s.BelowMovingAverage) &&
		*latest.SMAFast > slow &&
		*latest.RSI < s.RSIThreshold
}

// AboveBuy sells as soon as the price is above the entry price.
type AboveBuy struct{}

func (AboveBuy) Name() string { return "above_buy" }

func (AboveBuy) SellSignal(position state.Position, h History) bool {
	latest, ok := h.Latest(position.Instrument)
	if !ok {
		return false
	}
	return latest.Price > position.EntryPrice
}

// ProfitTarget sells once the price clears entry by Percentage.
type ProfitTarget struct {
	Percentage float64
}

func (ProfitTarget) Name() string { return "profit_target" }

func (p ProfitTarget) SellSignal(position state.Position, h History) bool {
	latest, ok := h.Latest(position.Instrument)
	if !ok {
		return false
	}
	return latest.Price >= position.EntryPrice*(1+p.Percentage)
}
