package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// PriceAlert is a one-shot target price.
type PriceAlert struct {
	ID        string          `json:"id"`
	Target    decimal.Decimal `json:"target"`
	CreatedAt time.Time       `json:"created_at"`
}

// Levels is the derived stop-loss / take-profit pair for the current position.
type Levels struct {
	Side       Side            `json:"side"`
	Entry      decimal.Decimal `json:"entry"`
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
	TrailingSL bool            `json:"trailing_sl"`
	TrailingTP bool            `json:"trailing_tp"`
}

// Update is the payload handed to presentation layers after each evaluation cycle.
type Update struct {
	TS                 time.Time               `json:"ts"`
	Price              decimal.Decimal         `json:"price"`
	Indicators         map[string]IndicatorSet `json:"indicators"` // keyed by TF label
	ActiveAlerts       []string                `json:"active_alerts"`
	PendingPriceAlerts []PriceAlert            `json:"price_alerts"`
	SLTP               *Levels                 `json:"sltp,omitempty"`
}

// JSON returns the JSON-encoded update.
func (u *Update) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
