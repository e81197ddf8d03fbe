package alert

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"btcalerts/internal/model"
)

// Rule configures one (timeframe × indicator) alert.
type Rule struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	ThresholdPercent float64 `json:"threshold" yaml:"threshold"`
}

// DefaultRule is enabled with a 0.1 % band around the indicator.
func DefaultRule() Rule { return Rule{Enabled: true, ThresholdPercent: 0.1} }

func validThreshold(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Key identifies an indicator alert.
type Key struct {
	TF        string
	Indicator string
	Band      string // Bollinger only
}

// String returns the dedup form: "1m_EMA20", "1m_BB_upper".
func (k Key) String() string {
	if k.Band != "" {
		return k.TF + "_" + k.Indicator + "_" + k.Band
	}
	return k.TF + "_" + k.Indicator
}

// PriceKey returns the dedup key of a price alert, e.g. "price_50000.00".
func PriceKey(target decimal.Decimal) string {
	return "price_" + target.StringFixed(2)
}

// RuleOverride is a partial rule; nil fields keep the current value.
type RuleOverride struct {
	Enabled   *bool    `yaml:"enabled"`
	Threshold *float64 `yaml:"threshold"`
}

func (o RuleOverride) apply(r Rule) Rule {
	if o.Enabled != nil {
		r.Enabled = *o.Enabled
	}
	if o.Threshold != nil {
		r.ThresholdPercent = *o.Threshold
	}
	return r
}

// RulesFile is the on-disk YAML form of rule overrides:
//
//	default:
//	  threshold: 0.2
//	timeframes:
//	  1m:
//	    RSI: {enabled: false}
//	price_alerts: ["65000", "60000.5"]
type RulesFile struct {
	Default     *RuleOverride                      `yaml:"default"`
	Timeframes  map[string]map[string]RuleOverride `yaml:"timeframes"`
	PriceAlerts []string                           `yaml:"price_alerts"`
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) (*RulesFile, error) {
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("alert rules: %w", err)
	}
	return &f, nil
}

// LoadRulesFile reads and decodes a YAML rules file.
func LoadRulesFile(path string) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alert rules: %w", err)
	}
	return ParseRules(data)
}

// Apply merges the file into the engine's rules and registers its price
// alerts. The engine is left unchanged when any entry is invalid.
func (e *Engine) Apply(f *RulesFile) error {
	if f == nil {
		return nil
	}

	targets := make([]decimal.Decimal, 0, len(f.PriceAlerts))
	for _, s := range f.PriceAlerts {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("%w: price alert %q", ErrInvalidPrice, s)
		}
		targets = append(targets, d)
	}

	e.mu.Lock()
	next := copyRules(e.rules)
	if f.Default != nil {
		for tf := range next {
			for ind, r := range next[tf] {
				next[tf][ind] = f.Default.apply(r)
			}
		}
	}
	for tf, inds := range f.Timeframes {
		if _, ok := next[tf]; !ok {
			e.mu.Unlock()
			return fmt.Errorf("%w: unknown timeframe %q", ErrInvalidRule, tf)
		}
		for ind, o := range inds {
			ind = strings.ToUpper(ind)
			r, ok := next[tf][ind]
			if !ok {
				e.mu.Unlock()
				return fmt.Errorf("%w: unknown indicator %q", ErrInvalidRule, ind)
			}
			next[tf][ind] = o.apply(r)
		}
	}
	for tf := range next {
		for ind, r := range next[tf] {
			if !validThreshold(r.ThresholdPercent) {
				e.mu.Unlock()
				return fmt.Errorf("%w: %s_%s threshold %v", ErrInvalidRule, tf, ind, r.ThresholdPercent)
			}
		}
	}
	e.rules = next
	e.mu.Unlock()

	for _, t := range targets {
		if _, err := e.AddPriceAlert(t); err != nil {
			return err
		}
	}
	return nil
}

func copyRules(in map[string]map[string]Rule) map[string]map[string]Rule {
	out := make(map[string]map[string]Rule, len(in))
	for tf, inds := range in {
		m := make(map[string]Rule, len(inds))
		for ind, r := range inds {
			m[ind] = r
		}
		out[tf] = m
	}
	return out
}

// scalarKey builds the key for one indicator scalar of a timeframe.
func scalarKey(tf string, s model.Scalar) Key {
	return Key{TF: tf, Indicator: s.Indicator, Band: s.Band}
}
