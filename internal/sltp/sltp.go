// Package sltp derives stop-loss and take-profit levels for a single position.
package sltp

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
)

var ErrInvalidPosition = errors.New("sltp: invalid position")

var hundred = decimal.NewFromInt(100)

// StopLoss returns entry moved pct percent against the position:
// below entry for Long, above for Short.
func StopLoss(entry decimal.Decimal, side model.Side, pct decimal.Decimal) decimal.Decimal {
	frac := pct.Div(hundred)
	if side == model.Short {
		return entry.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(frac))
}

// TakeProfit returns entry moved pct percent in favour of the position.
func TakeProfit(entry decimal.Decimal, side model.Side, pct decimal.Decimal) decimal.Decimal {
	frac := pct.Div(hundred)
	if side == model.Short {
		return entry.Mul(decimal.NewFromInt(1).Sub(frac))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(frac))
}

// ParseSide accepts LONG/BUY and SHORT/SELL in any case.
func ParseSide(s string) (model.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return model.Long, nil
	case "SHORT", "SELL":
		return model.Short, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidPosition, s)
}

// Position is the user's current trade, set wholesale.
type Position struct {
	EntryPrice decimal.Decimal `json:"entry_price"`
	Side       model.Side      `json:"side"`
	SLPercent  decimal.Decimal `json:"sl_percent"`
	TPPercent  decimal.Decimal `json:"tp_percent"`
	TrailingSL bool            `json:"trailing_sl"`
	TrailingTP bool            `json:"trailing_tp"`
}

// Validate checks entry > 0, non-negative percents and a known side.
func (p Position) Validate() error {
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidPosition)
	}
	if p.SLPercent.IsNegative() || p.TPPercent.IsNegative() {
		return fmt.Errorf("%w: percentages must not be negative", ErrInvalidPosition)
	}
	if p.Side != model.Long && p.Side != model.Short {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidPosition, p.Side)
	}
	return nil
}

// Calculator holds the current position. Levels are derived on every read.
//
// With TrailingSL (TrailingTP) set, the stop (target) is anchored on the most
// favourable price passed to Observe since the position was set, instead of
// on the entry price.
type Calculator struct {
	mu      sync.RWMutex
	pos     *Position
	extreme decimal.Decimal // highest price for Long, lowest for Short
}

// NewCalculator creates a calculator with no position.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// SetPosition replaces the position. On error the previous one is kept.
func (c *Calculator) SetPosition(p Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = &p
	c.extreme = p.EntryPrice
	return nil
}

// ClearPosition removes the position.
func (c *Calculator) ClearPosition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = nil
	c.extreme = decimal.Zero
}

// Position returns a copy of the current position.
func (c *Calculator) Position() (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pos == nil {
		return Position{}, false
	}
	return *c.pos, true
}

// Observe records a live price for trailing levels. No-op without a trailing
// flag or position.
func (c *Calculator) Observe(price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos == nil || !(c.pos.TrailingSL || c.pos.TrailingTP) || !price.IsPositive() {
		return
	}
	if c.pos.Side == model.Long && price.GreaterThan(c.extreme) {
		c.extreme = price
	}
	if c.pos.Side == model.Short && price.LessThan(c.extreme) {
		c.extreme = price
	}
}

// Levels returns the SL/TP for the current position; false when none is set.
func (c *Calculator) Levels() (model.Levels, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pos == nil {
		return model.Levels{}, false
	}
	p := c.pos

	slAnchor, tpAnchor := p.EntryPrice, p.EntryPrice
	if p.TrailingSL {
		slAnchor = c.extreme
	}
	if p.TrailingTP {
		tpAnchor = c.extreme
	}
	return model.Levels{
		Side:       p.Side,
		Entry:      p.EntryPrice,
		StopLoss:   StopLoss(slAnchor, p.Side, p.SLPercent),
		TakeProfit: TakeProfit(tpAnchor, p.Side, p.TPPercent),
		TrailingSL: p.TrailingSL,
		TrailingTP: p.TrailingTP,
	}, true
}
