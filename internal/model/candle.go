package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLC summary of the trades inside one timeframe bucket.
// TF is the bucket length in seconds (e.g., 60 = 1 minute).
type Candle struct {
	TF       int             `json:"tf"`
	OpenTime time.Time       `json:"open_time"` // bucket start (UTC)
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Ticks    int             `json:"ticks"` // trades merged; 0 for bootstrapped history
}

// NewCandle opens a candle where every price equals the first trade.
func NewCandle(tf int, openTime time.Time, price decimal.Decimal) Candle {
	return Candle{
		TF:       tf,
		OpenTime: openTime,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		Ticks:    1,
	}
}

// Apply merges a trade price into the candle. Open never changes.
func (c *Candle) Apply(price decimal.Decimal) {
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.Ticks++
}

// Valid reports whether low <= open, close <= high holds.
func (c *Candle) Valid() bool {
	if c.Low.GreaterThan(c.High) {
		return false
	}
	for _, p := range []decimal.Decimal{c.Open, c.Close} {
		if p.LessThan(c.Low) || p.GreaterThan(c.High) {
			return false
		}
	}
	return true
}

// CloseFloat returns the close price for indicator math.
func (c *Candle) CloseFloat() float64 {
	return c.Close.InexactFloat64()
}
