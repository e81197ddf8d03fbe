// Package monitor owns the core components and runs the periodic
// evaluation cycle that turns candles into indicators, alerts and SL/TP.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"btcalerts/internal/alert"
	"btcalerts/internal/indicator"
	"btcalerts/internal/marketdata/agg"
	"btcalerts/internal/model"
	"btcalerts/internal/sltp"
	redisstore "btcalerts/internal/store/redis"
)

// Config controls the evaluation loop.
type Config struct {
	Interval time.Duration // default 1s
}

// Service is the explicit context object holding every core component.
// It is built once at startup and handed to the transports that need it.
type Service struct {
	Aggregator *agg.Aggregator
	Indicators *indicator.Engine
	Alerts     *alert.Engine
	SLTP       *sltp.Calculator

	interval   time.Duration
	publishers []model.Publisher
	log        *slog.Logger

	mu     sync.RWMutex
	latest *model.Update

	// Hooks (optional)
	OnEval         func(d time.Duration, readyTFs int)
	OnPublishError func(err error)
}

// New wires the core components together.
func New(cfg Config, a *agg.Aggregator, ind *indicator.Engine, al *alert.Engine, calc *sltp.Calculator) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Service{
		Aggregator: a,
		Indicators: ind,
		Alerts:     al,
		SLTP:       calc,
		interval:   cfg.Interval,
		log:        slog.With("component", "monitor"),
	}
}

// AddPublisher registers a sink for every Update. Call before Run.
func (s *Service) AddPublisher(p model.Publisher) {
	if p != nil {
		s.publishers = append(s.publishers, p)
	}
}

// Evaluate runs one cycle. ok is false until the first tick has been seen.
func (s *Service) Evaluate(ctx context.Context) (model.Update, bool) {
	start := time.Now()

	price, _, ok := s.Aggregator.LastPrice()
	if !ok {
		return model.Update{}, false
	}

	closes := make(map[string][]float64)
	for _, tf := range s.Aggregator.Timeframes() {
		closes[tf.Label()] = s.Aggregator.Closes(tf.Seconds)
	}
	raw := s.Indicators.ComputeAll(closes)

	// Alerts see the same rounded values the dashboard shows.
	sets := make(map[string]model.IndicatorSet, len(raw))
	for label, set := range raw {
		sets[label] = s.Indicators.Round(set)
	}

	s.Alerts.Evaluate(ctx, price.InexactFloat64(), sets)
	s.Alerts.CheckPriceAlerts(ctx, price)

	u := model.Update{
		TS:                 time.Now().UTC(),
		Price:              price,
		Indicators:         sets,
		ActiveAlerts:       s.Alerts.Active(),
		PendingPriceAlerts: s.Alerts.PriceAlerts(),
	}
	if s.SLTP != nil {
		s.SLTP.Observe(price)
		if lv, ok := s.SLTP.Levels(); ok {
			u.SLTP = &lv
		}
	}

	s.mu.Lock()
	s.latest = &u
	s.mu.Unlock()

	if s.OnEval != nil {
		s.OnEval(time.Since(start), len(sets))
	}
	return u, true
}

// Latest returns the most recent Update, if any cycle has produced one.
func (s *Service) Latest() (model.Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return model.Update{}, false
	}
	return *s.latest, true
}

// Run evaluates every interval and publishes each Update until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("evaluator started", "interval", s.interval, "publishers", len(s.publishers))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("evaluator stopped")
			return
		case <-ticker.C:
			u, ok := s.Evaluate(ctx)
			if !ok {
				continue
			}
			s.publish(ctx, u)
		}
	}
}

func (s *Service) publish(ctx context.Context, u model.Update) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, u); err != nil {
			if s.OnPublishError != nil {
				s.OnPublishError(err)
			}
			if !errors.Is(err, redisstore.ErrCircuitOpen) {
				s.log.Warn("publish failed", "error", err)
			}
		}
	}
}
