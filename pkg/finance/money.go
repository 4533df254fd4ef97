// Package finance holds the monetary primitives of the refund engine.
// All amounts are decimal values of a single stablecoin unit.
package finance

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Currency is the only settlement unit supported.
const Currency = "USDC"

// PayableScale is the number of decimal places of a payable amount.
const PayableScale = 2

// MicroScale is the precision used by backends that store integer minor
// units (USDC has 6 decimals on-chain).
const MicroScale = 6

// RefundAmount converts a refund percentage of an order total into a payable
// amount. Rounding happens here and only here.
func RefundAmount(total decimal.Decimal, percentage float64) decimal.Decimal {
	pct := decimal.NewFromFloat(percentage)
	return total.Mul(pct).Div(decimal.NewFromInt(100)).Round(PayableScale)
}

// FromFloat converts a JSON-decoded number into a decimal, rejecting NaN and
// infinities.
func FromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("finance: non-finite amount %v", v)
	}
	return decimal.NewFromFloat(v), nil
}

// ToMicros returns d as an integer count of 10^-6 units, truncating any
// finer precision.
func ToMicros(d decimal.Decimal) int64 {
	return d.Shift(MicroScale).Truncate(0).IntPart()
}

// HasMicroPrecision reports whether d is exactly representable in micros.
func HasMicroPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MicroScale))
}

// RoundMicros rounds d to MicroScale places, half away from zero.
func RoundMicros(d decimal.Decimal) decimal.Decimal {
	return d.Round(MicroScale)
}

// FromMicros is the inverse of ToMicros.
func FromMicros(micros int64) decimal.Decimal {
	return decimal.New(micros, -MicroScale)
}

// Format renders d with exactly PayableScale decimals, e.g. "8.00".
func Format(d decimal.Decimal) string {
	return d.StringFixed(PayableScale)
}
