// Package alert decides which indicator and price alerts fire on each
// evaluation cycle and remembers which ones already have.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
	"btcalerts/internal/notification"
)

var (
	ErrInvalidRule  = errors.New("alert: invalid rule")
	ErrInvalidPrice = errors.New("alert: invalid price")
)

// DefaultPriceTolerance is the fraction of the live price within which a
// price alert fires (0.1 %).
const DefaultPriceTolerance = 0.001

// Firing is one alert that fired during a cycle.
type Firing struct {
	Key       string  `json:"key"`
	Kind      string  `json:"kind"` // notification.KindIndicator or KindPrice
	TF        string  `json:"tf,omitempty"`
	Indicator string  `json:"indicator,omitempty"`
	Band      string  `json:"band,omitempty"`
	Value     float64 `json:"value"` // indicator value or price target
	Price     float64 `json:"price"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithPriceTolerance sets the price alert tolerance as a fraction of price.
func WithPriceTolerance(frac float64) Option {
	return func(e *Engine) { e.tolerance = decimal.NewFromFloat(frac) }
}

// Engine holds alert rules, the active (deduplicated) set and pending price
// alerts behind a single RWMutex. Notifications are sent after the lock is
// released.
type Engine struct {
	mu          sync.RWMutex
	tfs         []string
	indicators  []string
	rules       map[string]map[string]Rule
	active      map[string]struct{}
	priceAlerts []model.PriceAlert

	tolerance decimal.Decimal
	notifier  notification.Notifier
	log       *slog.Logger

	// Hooks (optional)
	OnFire        func(f Firing)
	OnNotifyError func(err error)
}

// New creates an engine with one rule per (tf × indicator), all set to defaults.
// notifier may be nil.
func New(tfs, indicators []string, defaults Rule, notifier notification.Notifier, opts ...Option) *Engine {
	e := &Engine{
		tfs:        append([]string(nil), tfs...),
		indicators: append([]string(nil), indicators...),
		rules:      make(map[string]map[string]Rule, len(tfs)),
		active:     make(map[string]struct{}),
		tolerance:  decimal.NewFromFloat(DefaultPriceTolerance),
		notifier:   notifier,
		log:        slog.With("component", "alert"),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, tf := range e.tfs {
		m := make(map[string]Rule, len(indicators))
		for _, ind := range e.indicators {
			m[ind] = defaults
		}
		e.rules[tf] = m
	}
	return e
}

// Evaluate compares price with every scalar of every enabled rule and fires
// the ones within threshold that are not already active. Zero-valued
// indicators (not enough data) never fire.
func (e *Engine) Evaluate(ctx context.Context, price float64, sets map[string]model.IndicatorSet) []Firing {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}

	var fired []Firing
	e.mu.Lock()
	for _, tf := range e.tfs {
		set, ok := sets[tf]
		if !ok {
			continue
		}
		for _, s := range set.Scalars() {
			rule, ok := e.rules[tf][s.Indicator]
			if !ok || !rule.Enabled || s.Value == 0 {
				continue
			}
			if math.Abs(price-s.Value) > rule.ThresholdPercent/100*price {
				continue
			}
			key := scalarKey(tf, s).String()
			if _, dup := e.active[key]; dup {
				continue
			}
			e.active[key] = struct{}{}
			fired = append(fired, Firing{
				Key:       key,
				Kind:      notification.KindIndicator,
				TF:        tf,
				Indicator: s.Indicator,
				Band:      s.Band,
				Value:     s.Value,
				Price:     price,
			})
		}
	}
	e.mu.Unlock()

	e.dispatch(ctx, fired)
	return fired
}

// CheckPriceAlerts fires and removes every pending price alert within
// tolerance of price.
func (e *Engine) CheckPriceAlerts(ctx context.Context, price decimal.Decimal) []Firing {
	if !price.IsPositive() {
		return nil
	}
	band := price.Mul(e.tolerance)

	var fired []Firing
	e.mu.Lock()
	pending := e.priceAlerts[:0]
	for _, pa := range e.priceAlerts {
		if price.Sub(pa.Target).Abs().GreaterThan(band) {
			pending = append(pending, pa)
			continue
		}
		key := PriceKey(pa.Target)
		if _, dup := e.active[key]; dup {
			continue // consumed without a second notification
		}
		e.active[key] = struct{}{}
		fired = append(fired, Firing{
			Key:   key,
			Kind:  notification.KindPrice,
			Value: pa.Target.InexactFloat64(),
			Price: price.InexactFloat64(),
		})
	}
	clear(e.priceAlerts[len(pending):])
	e.priceAlerts = pending
	e.mu.Unlock()

	e.dispatch(ctx, fired)
	return fired
}

func (e *Engine) dispatch(ctx context.Context, fired []Firing) {
	for _, f := range fired {
		if e.OnFire != nil {
			e.OnFire(f)
		}
		if e.notifier == nil {
			continue
		}
		if err := e.notifier.Send(ctx, f.Alert()); err != nil {
			e.log.Warn("notify failed", "key", f.Key, "error", err)
			if e.OnNotifyError != nil {
				e.OnNotifyError(err)
			}
		}
	}
}

// Alert renders the firing as a notification.
func (f Firing) Alert() notification.Alert {
	if f.Kind == notification.KindPrice {
		return notification.NewAlert(notification.AlertWarning, f.Kind, f.Key,
			fmt.Sprintf("Price reached %.2f", f.Value),
			fmt.Sprintf("Live price %.2f reached target %.2f", f.Price, f.Value),
			f.Price)
	}
	name := f.Indicator
	if f.Band != "" {
		name += " " + f.Band
	}
	return notification.NewAlert(notification.AlertInfo, f.Kind, f.Key,
		fmt.Sprintf("%s %s alert", f.TF, name),
		fmt.Sprintf("Price %.2f is near %s %s (%.2f)", f.Price, f.TF, name, f.Value),
		f.Price)
}

// AddPriceAlert registers a one-shot price alert. target must be positive.
// Any active key left by an earlier alert on the same target is cleared so
// the new alert notifies when reached.
func (e *Engine) AddPriceAlert(target decimal.Decimal) (model.PriceAlert, error) {
	if !target.IsPositive() {
		return model.PriceAlert{}, fmt.Errorf("%w: target %s must be positive", ErrInvalidPrice, target)
	}
	pa := model.PriceAlert{
		ID:        uuid.NewString(),
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
	e.mu.Lock()
	delete(e.active, PriceKey(target))
	e.priceAlerts = append(e.priceAlerts, pa)
	e.mu.Unlock()
	return pa, nil
}

// RemovePriceAlert drops a pending price alert by id.
func (e *Engine) RemovePriceAlert(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, pa := range e.priceAlerts {
		if pa.ID == id {
			e.priceAlerts = append(e.priceAlerts[:i], e.priceAlerts[i+1:]...)
			return true
		}
	}
	return false
}

// PriceAlerts returns the pending price alerts in insertion order.
func (e *Engine) PriceAlerts() []model.PriceAlert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.PriceAlert(nil), e.priceAlerts...)
}

// SetRule replaces the rule for tf × indicator.
func (e *Engine) SetRule(tf, indicator string, enabled bool, thresholdPercent float64) error {
	indicator = strings.ToUpper(indicator)
	if !validThreshold(thresholdPercent) {
		return fmt.Errorf("%w: threshold %v must be a non-negative number", ErrInvalidRule, thresholdPercent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	inds, ok := e.rules[tf]
	if !ok {
		return fmt.Errorf("%w: unknown timeframe %q", ErrInvalidRule, tf)
	}
	if _, ok := inds[indicator]; !ok {
		return fmt.Errorf("%w: unknown indicator %q", ErrInvalidRule, indicator)
	}
	inds[indicator] = Rule{Enabled: enabled, ThresholdPercent: thresholdPercent}
	return nil
}

// Rules returns a copy of the rule table keyed by tf, then indicator.
func (e *Engine) Rules() map[string]map[string]Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyRules(e.rules)
}

// ClearAlert removes key from the active set so it may fire again.
func (e *Engine) ClearAlert(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[key]; !ok {
		return false
	}
	delete(e.active, key)
	return true
}

// ResetAlerts empties the active set.
func (e *Engine) ResetAlerts() {
	e.mu.Lock()
	clear(e.active)
	e.mu.Unlock()
}

// Active returns the active alert keys, sorted.
func (e *Engine) Active() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.active))
	for k := range e.active {
		out = append(out, k)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}
