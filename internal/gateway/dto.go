package gateway

import (
	"time"

	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
)

// TFInfo is the REST response type for /api/tfs.
type TFInfo struct {
	Seconds int    `json:"seconds"`
	Label   string `json:"label"`
}

// CandleOut is the REST response type for /api/candles.
type CandleOut struct {
	TS      time.Time       `json:"ts"`
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"high"`
	Low     decimal.Decimal `json:"low"`
	Close   decimal.Decimal `json:"close"`
	Ticks   int             `json:"ticks"`
	TF      string          `json:"tf"`
	Forming bool            `json:"forming"` // newest candle, still accumulating
}

func candlesOut(tf model.Timeframe, cs []model.Candle) []CandleOut {
	out := make([]CandleOut, len(cs))
	for i, c := range cs {
		out[i] = CandleOut{
			TS:      c.OpenTime,
			Open:    c.Open,
			High:    c.High,
			Low:     c.Low,
			Close:   c.Close,
			Ticks:   c.Ticks,
			TF:      tf.Label(),
			Forming: i == len(cs)-1,
		}
	}
	return out
}

// RuleRequest is the body of POST /api/rules (legacy /set_alert).
type RuleRequest struct {
	Timeframe string  `json:"timeframe" binding:"required"`
	Indicator string  `json:"indicator" binding:"required"`
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
}

// PriceAlertRequest is the body of POST /api/alerts/price (legacy /set_price_alert).
// Price accepts a JSON number or string.
type PriceAlertRequest struct {
	Price decimal.Decimal `json:"price"`
}

// PositionRequest is the body of POST /api/position (legacy /set_position).
type PositionRequest struct {
	EntryPrice   decimal.Decimal `json:"entry_price"`
	PositionType string          `json:"position_type" binding:"required"`
	SLPercent    decimal.Decimal `json:"sl_percent"`
	TPPercent    decimal.Decimal `json:"tp_percent"`
	TrailingSL   bool            `json:"trailing_sl"`
	TrailingTP   bool            `json:"trailing_tp"`
}
