// Package indicator provides technical indicator calculations over close prices.
//
// The streaming primitives (SMA, EMA, SMMA, RSI, Bollinger) are O(1) or
// O(window) per update. Engine composes them into a pure function from a
// close series to a model.IndicatorSet.
package indicator

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Update feeds the next close price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears accumulated state for reuse.
	Reset()
}

