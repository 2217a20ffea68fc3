// Package indicator provides technical indicator calculations over price bars.
//
// Each indicator implements the Indicator interface and updates in O(1) per
// bar. Window composes them into the snapshot the signal evaluator reads.
package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"goldscalper/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "RSI", "ATR").
	Name() string

	// Update feeds a new bar and recalculates.
	Update(bar model.PriceBar)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// round2 rounds an oscillator value to two decimals so threshold checks do
// not flap on float noise.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// roundPoints rounds a price-derived value (in points) to whole points.
func roundPoints(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(0).IntPart()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
