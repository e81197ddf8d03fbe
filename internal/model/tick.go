package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single validated trade print from the feed.
// Price is a decimal so the candle OHLC values keep the exchange's exact quote.
type Tick struct {
	Price decimal.Decimal `json:"price"`
	TS    time.Time       `json:"ts"` // UTC trade time
}
