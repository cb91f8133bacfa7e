package engine

import (
	"github.com/shopspring/decimal"
)

// orderPrecision bounds the decimals sent to the broker.
const orderPrecision = 7

// FloorToIncrement rounds value down to a whole number of increments.
func FloorToIncrement(value float64, increment decimal.Decimal) decimal.Decimal {
	if !increment.IsPositive() {
		return decimal.NewFromFloat(value).Round(orderPrecision)
	}
	steps := decimal.NewFromFloat(value).Div(increment).Floor()
	return steps.Mul(increment).Round(orderPrecision)
}

func roundCash(v float64) float64 {
	return decimal.NewFromFloat(v).Round(3).InexactFloat64()
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(orderPrecision)
}
