// Package agg maintains rolling OHLC candle series for every enabled
// timeframe from a single stream of trade ticks.
package agg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
	"btcalerts/internal/ringbuf"
)

// Alignment selects how a new candle's OpenTime is derived from its first tick.
type Alignment int

const (
	// AlignBucket truncates the tick time to the timeframe boundary (Unix epoch based).
	AlignBucket Alignment = iota
	// AlignTick anchors the candle on the exact time of the tick that opened it.
	AlignTick
)

func (a Alignment) String() string {
	if a == AlignTick {
		return "tick"
	}
	return "bucket"
}

// ParseAlignment accepts "bucket" (or empty) and "tick".
func ParseAlignment(s string) (Alignment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bucket":
		return AlignBucket, nil
	case "tick":
		return AlignTick, nil
	}
	return AlignBucket, fmt.Errorf("unknown candle alignment %q", s)
}

var (
	ErrUnknownTimeframe = errors.New("agg: unknown timeframe")
	ErrInvalidCandle    = errors.New("agg: invalid candle")
)

// series is one timeframe's bounded history.
type series struct {
	mu   sync.RWMutex
	tf   model.Timeframe
	ring *ringbuf.Ring
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithAlignment sets the candle OpenTime alignment (default AlignBucket).
func WithAlignment(a Alignment) Option {
	return func(ag *Aggregator) { ag.align = a }
}

// WithStaleTolerance sets how far behind the newest candle a tick may be and
// still be merged into it. Older ticks are dropped. Default: 2s.
func WithStaleTolerance(d time.Duration) Option {
	return func(ag *Aggregator) { ag.staleTolerance = d }
}

// Aggregator builds candles for several timeframes at once.
// Ingest is meant to be called from one goroutine (see Run); readers use
// Snapshot/Closes, which copy under a per-series read lock.
type Aggregator struct {
	series   []*series
	byTF     map[int]*series
	capacity int

	align          Alignment
	staleTolerance time.Duration

	lastMu    sync.RWMutex
	lastPrice decimal.Decimal
	lastTS    time.Time
	hasLast   bool

	// Hooks (optional, set before Run). Called outside the series lock.
	OnCandleOpened func(tf int)
	OnCandleClosed func(c model.Candle)
	OnStaleTick    func(tf int)
	OnEvicted      func(tf int) // oldest candle dropped to make room
}

// New creates an aggregator keeping at most capacity candles per timeframe.
func New(tfs []model.Timeframe, capacity int, opts ...Option) *Aggregator {
	if capacity < 1 {
		capacity = 1
	}
	a := &Aggregator{
		byTF:           make(map[int]*series, len(tfs)),
		capacity:       capacity,
		staleTolerance: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, tf := range tfs {
		if _, dup := a.byTF[tf.Seconds]; dup || tf.Seconds <= 0 {
			continue
		}
		s := &series{tf: tf, ring: ringbuf.New(capacity)}
		a.series = append(a.series, s)
		a.byTF[tf.Seconds] = s
	}
	return a
}

// Timeframes returns the enabled timeframes in configuration order.
func (a *Aggregator) Timeframes() []model.Timeframe {
	out := make([]model.Timeframe, len(a.series))
	for i, s := range a.series {
		out[i] = s.tf
	}
	return out
}

// Run consumes ticks from tickCh in a single goroutine until ctx is cancelled
// or the channel is closed. Aggregated history is retained after return.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			a.Ingest(tick)
		}
	}
}

// Ingest folds one tick into every timeframe series.
func (a *Aggregator) Ingest(tick model.Tick) {
	a.lastMu.Lock()
	a.lastPrice = tick.Price
	a.lastTS = tick.TS
	a.hasLast = true
	a.lastMu.Unlock()

	for _, s := range a.series {
		a.ingestSeries(s, tick)
	}
}

// ingestSeries applies the tick to one series and fires hooks after unlocking.
func (a *Aggregator) ingestSeries(s *series, tick model.Tick) {
	var (
		closed  model.Candle
		opened  bool
		evicted bool
		stale   bool
		hasPrev bool
	)
	tf := s.tf.Seconds
	bucket := s.tf.Duration()

	s.mu.Lock()
	last := s.ring.Last()
	switch {
	case last != nil && tick.TS.Before(last.OpenTime):
		// Out-of-order tick: merge into the newest candle when barely late,
		// never rewrite older candles.
		if last.OpenTime.Sub(tick.TS) <= a.staleTolerance {
			last.Apply(tick.Price)
		} else {
			stale = true
		}
	case last == nil || tick.TS.Sub(last.OpenTime) >= bucket:
		if last != nil {
			closed, hasPrev = *last, true
		}
		evicted = s.ring.Push(model.NewCandle(tf, a.openTime(tick.TS, tf), tick.Price))
		opened = true
	default:
		last.Apply(tick.Price)
	}
	s.mu.Unlock()

	if stale && a.OnStaleTick != nil {
		a.OnStaleTick(tf)
	}
	if hasPrev && a.OnCandleClosed != nil {
		a.OnCandleClosed(closed)
	}
	if opened && a.OnCandleOpened != nil {
		a.OnCandleOpened(tf)
	}
	if evicted && a.OnEvicted != nil {
		a.OnEvicted(tf)
	}
}

func (a *Aggregator) openTime(ts time.Time, tf int) time.Time {
	if a.align == AlignTick {
		return ts
	}
	sec := ts.Unix()
	return time.Unix(sec-sec%int64(tf), 0).UTC()
}

// Snapshot returns a copy of the series for tf (seconds), oldest first.
// Unknown timeframes yield nil.
func (a *Aggregator) Snapshot(tf int) []model.Candle {
	s, ok := a.byTF[tf]
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.Snapshot()
}

// Closes returns the close prices of the series for tf, oldest first.
func (a *Aggregator) Closes(tf int) []float64 {
	s, ok := a.byTF[tf]
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]float64, s.ring.Len())
	for i := range out {
		c, _ := s.ring.At(i)
		out[i] = c.CloseFloat()
	}
	return out
}

// Load replaces the series for tf with historical candles (chronological).
// Only the newest capacity candles are kept. The series is left untouched
// when any candle is malformed or out of order.
func (a *Aggregator) Load(tf int, candles []model.Candle) error {
	s, ok := a.byTF[tf]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTimeframe, tf)
	}
	for i := range candles {
		if !candles[i].Valid() {
			return fmt.Errorf("%w: ohlc out of range at index %d", ErrInvalidCandle, i)
		}
		if i > 0 && !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return fmt.Errorf("%w: not chronological at index %d", ErrInvalidCandle, i)
		}
	}
	if len(candles) > a.capacity {
		candles = candles[len(candles)-a.capacity:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.Reset()
	for _, c := range candles {
		c.TF = tf
		s.ring.Push(c)
	}
	return nil
}

// LastPrice returns the most recently ingested price and its trade time.
func (a *Aggregator) LastPrice() (decimal.Decimal, time.Time, bool) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.lastPrice, a.lastTS, a.hasLast
}
