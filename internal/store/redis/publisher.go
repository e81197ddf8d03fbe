// Package redis forwards evaluator output to Redis for external consumers:
// each Update is PUBLISHed and cached as the latest snapshot, and each alert
// is PUBLISHed on its own channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"btcalerts/internal/model"
	"btcalerts/internal/notification"
)

const (
	defaultLatestTTL   = 30 * time.Minute
	defaultCallTimeout = 2 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Symbol   string // e.g. "BTCUSDT"

	LatestTTL    time.Duration // default 30m
	CallTimeout  time.Duration // per publish, default 2s
	MaxFailures  int           // breaker threshold, default 5
	ResetTimeout time.Duration // breaker open window, default 10s
}

// UpdatesChannel is the pub/sub channel carrying every Update.
func UpdatesChannel(symbol string) string { return "updates:" + strings.ToLower(symbol) }

// AlertsChannel is the pub/sub channel carrying fired alerts.
func AlertsChannel(symbol string) string { return "alerts:" + strings.ToLower(symbol) }

// LatestKey holds the most recent Update as JSON.
func LatestKey(symbol string) string { return "latest:" + strings.ToLower(symbol) }

// Publisher implements model.Publisher and notification.Notifier on Redis.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	cfg     Config
	log     *slog.Logger

	// OnPublish is called with the pipeline latency of each successful publish (optional).
	OnPublish func(d time.Duration)
}

// New creates a publisher. It does not contact Redis; see Ping.
func New(cfg Config) *Publisher {
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.CallTimeout,
		MaxRetries:  1,
	})
	return &Publisher{
		client:  client,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		cfg:     cfg,
		log:     slog.With("component", "redis", "addr", cfg.Addr),
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker so callers can observe state changes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// Ping checks connectivity once.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish sends the update on the updates channel and stores it as the
// latest snapshot, in one pipeline.
func (p *Publisher) Publish(ctx context.Context, u model.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("redis publish: marshal: %w", err)
	}

	err = p.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		start := time.Now()
		pipe := p.client.Pipeline()
		pipe.Publish(ctx, UpdatesChannel(p.cfg.Symbol), payload)
		pipe.Set(ctx, LatestKey(p.cfg.Symbol), payload, p.cfg.LatestTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		if p.OnPublish != nil {
			p.OnPublish(time.Since(start))
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		p.log.Warn("publish update failed", "error", err)
	}
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Send publishes an alert on the alerts channel.
func (p *Publisher) Send(ctx context.Context, alert notification.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis alert: marshal: %w", err)
	}
	err = p.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		return p.client.Publish(ctx, AlertsChannel(p.cfg.Symbol), payload).Err()
	})
	if err != nil {
		return fmt.Errorf("redis alert: %w", err)
	}
	return nil
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
