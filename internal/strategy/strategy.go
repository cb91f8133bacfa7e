// Package strategy holds the named buy and sell rules. Rules only read the
// price history and the position they are given.
package strategy

import (
	"fmt"
	"sort"

	"cryptobot/internal/history"
	"cryptobot/internal/state"
)

const (
	DefaultBuyRule  = "sma_rsi_threshold"
	DefaultSellRule = "above_buy"
)

// History is the read-only view of the price history rules evaluate.
type History interface {
	Latest(instrument string) (history.Sample, bool)
	Tail(instrument string, n int) []history.Sample
}

type BuyRule interface {
	Name() string
	BuySignal(instrument string, h History) bool
}

type SellRule interface {
	Name() string
	SellSignal(position state.Position, h History) bool
}

// Params are the thresholds rules may read.
type Params struct {
	BuyBelowMovingAverage float64
	RSIThreshold          float64
	ProfitPercentage      float64
}

var buyRules = map[string]func(Params) BuyRule{
	"sma_rsi_threshold": func(p Params) BuyRule { return SMARSIThreshold{BelowMovingAverage: p.BuyBelowMovingAverage, RSIThreshold: p.RSIThreshold} },
	"macd_rsi":          func(p Params) BuyRule { return MACDRSI{RSIThreshold: p.RSIThreshold} },
}

var sellRules = map[string]func(Params) SellRule{
	"above_buy":       func(Params) SellRule { return AboveBuy{} },
	"profit_target":   func(p Params) SellRule { return ProfitTarget{Percentage: p.ProfitPercentage} },
	"macd_cross_down": func(Params) SellRule { return MACDCrossDown{} },
}

func NewBuyRule(name string, p Params) (BuyRule, error) {
	ctor, ok := buyRules[name]
	if !ok {
		return nil, fmt.Errorf("unknown buy rule %q (known: %v)", name, BuyRuleNames())
	}
	return ctor(p), nil
}

func NewSellRule(name string, p Params) (SellRule, error) {
	ctor, ok := sellRules[name]
	if !ok {
		return nil, fmt.Errorf("unknown sell rule %q (known: %v)", name, SellRuleNames())
	}
	return ctor(p), nil
}

func BuyRuleNames() []string  { return sortedKeys(buyRules) }
func SellRuleNames() []string { return sortedKeys(sellRules) }

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
