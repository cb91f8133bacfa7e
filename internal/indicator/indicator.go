// Package indicator derives moving averages, RSI and MACD from a price series.
//
// Every function returns one entry per input price. Entries are nil until the
// indicator has enough preceding samples, so callers never mistake a warm-up
// zero for a real reading.
package indicator

import (
	talib "github.com/markcheno/go-talib"
)

// Periods groups the lookback lengths used by Compute.
type Periods struct {
	SMAFast    int `yaml:"sma_fast" json:"sma_fast"`
	SMASlow    int `yaml:"sma_slow" json:"sma_slow"`
	RSI        int `yaml:"rsi" json:"rsi"`
	MACDFast   int `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal int `yaml:"macd_signal" json:"macd_signal"`
}

// Set holds all indicator series for one price series.
type Set struct {
	SMAFast    []*float64
	SMASlow    []*float64
	RSI        []*float64
	MACD       []*float64
	MACDSignal []*float64
}

// Compute recomputes every indicator over the whole series.
func Compute(prices []float64, p Periods) Set {
	macd, signal := MACD(prices, p.MACDFast, p.MACDSlow, p.MACDSignal)
	return Set{
		SMAFast:    ShiftedSMA(prices, p.SMAFast),
		SMASlow:    ShiftedSMA(prices, p.SMASlow),
		RSI:        RSI(prices, p.RSI),
		MACD:       macd,
		MACDSignal: signal,
	}
}

// ShiftedSMA is the simple moving average of the period samples strictly
// before each index, so a reading never includes the price it is compared to.
func ShiftedSMA(prices []float64, period int) []*float64 {
	out := make([]*float64, len(prices))
	if period <= 0 || len(prices) < period+1 {
		return out
	}
	sma := talib.Sma(prices, period)
	for i := period; i < len(prices); i++ {
		out[i] = ptr(sma[i-1])
	}
	return out
}

// RSI is Wilder's relative strength index.
func RSI(prices []float64, period int) []*float64 {
	out := make([]*float64, len(prices))
	if period < 2 || len(prices) <= period {
		return out
	}
	rsi := talib.Rsi(prices, period)
	for i := period; i < len(prices); i++ {
		out[i] = ptr(rsi[i])
	}
	return out
}

// MACD returns the MACD line and its signal line.
func MACD(prices []float64, fast, slow, signal int) ([]*float64, []*float64) {
	line := make([]*float64, len(prices))
	sig := make([]*float64, len(prices))
	if fast <= 0 || slow <= fast || signal <= 0 {
		return line, sig
	}
	start := slow + signal - 2
	if len(prices) <= start {
		return line, sig
	}
	macd, macdSignal, _ := talib.Macd(prices, fast, slow, signal)
	for i := start; i < len(prices); i++ {
		line[i] = ptr(macd[i])
		sig[i] = ptr(macdSignal[i])
	}
	return line, sig
}

// MinSamples is the number of samples needed before every indicator is defined.
func (p Periods) MinSamples() int {
	need := p.SMASlow + 1
	if p.SMAFast+1 > need {
		need = p.SMAFast + 1
	}
	if p.RSI+1 > need {
		need = p.RSI + 1
	}
	if m := p.MACDSlow + p.MACDSignal - 1; m > need {
		need = m
	}
	return need
}

func ptr(v float64) *float64 {
	return &v
}
