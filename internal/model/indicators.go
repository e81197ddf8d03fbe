package model

import "github.com/shopspring/decimal"

// Indicator names as used in alert rules and payloads.
const (
	IndRSI    = "RSI"
	IndEMA20  = "EMA20"
	IndEMA50  = "EMA50"
	IndEMA200 = "EMA200"
	IndBB     = "BB"
)

// Bollinger band names.
const (
	BandUpper  = "upper"
	BandMiddle = "middle"
	BandLower  = "lower"
)

// IndicatorNames lists the indicators every timeframe carries, in display order.
var IndicatorNames = []string{IndRSI, IndEMA20, IndEMA50, IndEMA200, IndBB}

// Bands holds the three Bollinger envelope values.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// IndicatorSet is the per-timeframe indicator output of one evaluation cycle.
type IndicatorSet struct {
	RSI    float64 `json:"rsi"`
	EMA20  float64 `json:"ema20"`
	EMA50  float64 `json:"ema50"`
	EMA200 float64 `json:"ema200"`
	BB     Bands   `json:"bb"`
}

// Scalar is one comparable indicator value. Band is empty except for BB.
type Scalar struct {
	Indicator string
	Band      string
	Value     float64
}

// Scalars flattens the set in a stable order; BB yields three entries.
func (s IndicatorSet) Scalars() []Scalar {
	return []Scalar{
		{Indicator: IndRSI, Value: s.RSI},
		{Indicator: IndEMA20, Value: s.EMA20},
		{Indicator: IndEMA50, Value: s.EMA50},
		{Indicator: IndEMA200, Value: s.EMA200},
		{Indicator: IndBB, Band: BandUpper, Value: s.BB.Upper},
		{Indicator: IndBB, Band: BandMiddle, Value: s.BB.Middle},
		{Indicator: IndBB, Band: BandLower, Value: s.BB.Lower},
	}
}

// Round returns a copy rounded to places decimals. Negative places disables rounding.
func (s IndicatorSet) Round(places int) IndicatorSet {
	if places < 0 {
		return s
	}
	return IndicatorSet{
		RSI:    RoundFloat(s.RSI, places),
		EMA20:  RoundFloat(s.EMA20, places),
		EMA50:  RoundFloat(s.EMA50, places),
		EMA200: RoundFloat(s.EMA200, places),
		BB: Bands{
			Upper:  RoundFloat(s.BB.Upper, places),
			Middle: RoundFloat(s.BB.Middle, places),
			Lower:  RoundFloat(s.BB.Lower, places),
		},
	}
}

// RoundFloat rounds half away from zero through a decimal so 1.005 → 1.01.
func RoundFloat(v float64, places int) float64 {
	if places < 0 {
		return v
	}
	return decimal.NewFromFloat(v).Round(int32(places)).InexactFloat64()
}
