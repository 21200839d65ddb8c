// Package money holds the rounding policy for monetary amounts and ton
// quantities. Values are rounded at every accumulation step.
package money

import "github.com/shopspring/decimal"

// USD rounds a dollar amount to cents.
func USD(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Tons rounds a ton quantity to kilograms.
func Tons(v float64) float64 {
	return decimal.NewFromFloat(v).Round(3).InexactFloat64()
}

// Cost returns price * tons rounded to cents.
func Cost(pricePerTon, tons float64) float64 {
	return decimal.NewFromFloat(pricePerTon).Mul(decimal.NewFromFloat(tons)).Round(2).InexactFloat64()
}

// AddTons adds b to a and rounds the result.
func AddTons(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(3).InexactFloat64()
}

// SubTonsFloor subtracts b from a, clamps at zero and rounds.
func SubTonsFloor(a, b float64) float64 {
	d := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b))
	if d.IsNegative() {
		return 0
	}
	return d.Round(3).InexactFloat64()
}

// AddUSD adds b to a and rounds the result.
func AddUSD(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}
