// Package precision rounds order quantities and prices to exchange step sizes.
package precision

import (
	"github.com/shopspring/decimal"
)

// Decimals returns the number of decimal places implied by a step size
// (0.001 -> 3, 0.5 -> 1, 1 -> 0).
func Decimals(step float64) int {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// RoundToPrecision floors value to the nearest multiple of step. It never
// rounds up, so a sized order can only shrink. A non-positive step returns
// value unchanged.
func RoundToPrecision(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	s := decimal.NewFromFloat(step)
	rounded := decimal.NewFromFloat(value).Div(s).Floor().Mul(s)
	f, _ := rounded.Round(int32(Decimals(step))).Float64()
	return f
}

// FormatToPrecision renders the rounded value with exactly the step's decimal
// places, the form the exchange expects for quantity and price parameters.
func FormatToPrecision(value, step float64) string {
	rounded := RoundToPrecision(value, step)
	return decimal.NewFromFloat(rounded).StringFixed(int32(Decimals(step)))
}

// ValidateRange reports whether value lies within [min, max].
func ValidateRange(value, min, max float64) bool {
	return value >= min && value <= max
}
