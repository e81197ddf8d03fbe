package indicator

import (
	"math"

	"btcalerts/internal/model"
)

// Config holds indicator parameters shared by every timeframe.
type Config struct {
	RSIPeriod  int
	EMAPeriods [3]int // reported as EMA20, EMA50, EMA200 in that order
	BBPeriod   int
	BBMult     float64
	MinCandles int // fewer closes than this and the timeframe is not ready
	Precision  int // decimals used by Round; negative disables rounding
}

// DefaultConfig returns RSI14, EMA 20/50/200, Bollinger 20/2, a 20-candle gate
// and 2-decimal presentation.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:  14,
		EMAPeriods: [3]int{20, 50, 200},
		BBPeriod:   20,
		BBMult:     2,
		MinCandles: 20,
		Precision:  2,
	}
}

// Engine computes a full IndicatorSet from a close series.
// Compute is a pure function of its input; an Engine is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an indicator engine.
func NewEngine(cfg Config) *Engine {
	if cfg.MinCandles < 1 {
		cfg.MinCandles = 1
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine parameters.
func (e *Engine) Config() Config { return e.cfg }

// Compute returns the indicators for a chronological close series at full
// precision. ok is false when fewer than MinCandles closes are available.
// Indicators whose window exceeds the data are reported as 0.
func (e *Engine) Compute(closes []float64) (model.IndicatorSet, bool) {
	if len(closes) < e.cfg.MinCandles {
		return model.IndicatorSet{}, false
	}

	rsi := NewRSI(e.cfg.RSIPeriod)
	emas := [3]*EMA{
		NewEMA(e.cfg.EMAPeriods[0]),
		NewEMA(e.cfg.EMAPeriods[1]),
		NewEMA(e.cfg.EMAPeriods[2]),
	}
	bb := NewBollinger(e.cfg.BBPeriod, e.cfg.BBMult)

	for _, c := range closes {
		rsi.Update(c)
		for _, ema := range emas {
			ema.Update(c)
		}
		bb.Update(c)
	}

	var set model.IndicatorSet
	set.RSI = readyValue(rsi)
	set.EMA20 = readyValue(emas[0])
	set.EMA50 = readyValue(emas[1])
	set.EMA200 = readyValue(emas[2])
	upper, middle, lower := bb.Bands()
	set.BB = model.Bands{
		Upper:  finite(upper),
		Middle: finite(middle),
		Lower:  finite(lower),
	}
	return set, true
}

// ComputeAll runs Compute for every timeframe label and omits the ones that
// are not ready.
func (e *Engine) ComputeAll(closes map[string][]float64) map[string]model.IndicatorSet {
	out := make(map[string]model.IndicatorSet, len(closes))
	for label, series := range closes {
		if set, ok := e.Compute(series); ok {
			out[label] = set
		}
	}
	return out
}

// Round applies the configured presentation precision.
func (e *Engine) Round(set model.IndicatorSet) model.IndicatorSet {
	return set.Round(e.cfg.Precision)
}

func readyValue(ind Indicator) float64 {
	if !ind.Ready() {
		return 0
	}
	return finite(ind.Value())
}

// finite maps NaN and ±Inf to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
