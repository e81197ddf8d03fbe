// Package ws streams trades from a Binance-style aggTrade WebSocket and
// turns them into validated ticks for the candle aggregator.
//
// Expected message (raw or wrapped in a combined-stream {"stream","data"}):
//
//	{"e":"aggTrade","s":"BTCUSDT","p":"50000.12","q":"0.01","T":1709251200123}
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
)

// ErrMalformed marks a message that could not be turned into a tick.
var ErrMalformed = errors.New("ws: malformed trade")

// Config holds configuration for the trade feed.
type Config struct {
	// URL of the trade stream, e.g. "wss://fstream.binance.com/ws/btcusdt@aggTrade".
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// ReadTimeout closes a silent connection so it can be re-dialled. Defaults to 60s.
	ReadTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
}

// Feed connects to the trade WebSocket and pushes model.Tick values into a channel.
type Feed struct {
	cfg Config
	log *slog.Logger

	// Optional hooks
	OnReconnect func()
	OnConnect   func(connected bool)
	OnMalformed func()
	OnDropped   func()
	OnTick      func(t model.Tick)
}

// New creates a Feed. Returns an error if the URL is not a ws/wss URL.
func New(cfg Config) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws: unsupported scheme %q in %s", u.Scheme, cfg.URL)
	}
	return &Feed{cfg: cfg, log: slog.With("component", "feed")}, nil
}

// Start streams ticks into tickCh until ctx is cancelled, reconnecting with
// exponential backoff. The backoff resets after every successful connection.
func (f *Feed) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := f.runOnce(ctx, tickCh)
		if connected && f.OnConnect != nil {
			f.OnConnect(false)
		}
		if err == nil {
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		f.log.Warn("feed disconnected", "error", err, "retry_in", delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx cancel.
// A nil error means ctx was cancelled.
func (f *Feed) runOnce(ctx context.Context, tickCh chan<- model.Tick) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	defer conn.Close()

	f.log.Info("feed connected", "url", f.cfg.URL)
	if f.OnConnect != nil {
		f.OnConnect(true)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		tick, err := ParseAggTrade(raw)
		if err != nil {
			f.log.Debug("rejected trade", "error", err, "raw", string(raw))
			if f.OnMalformed != nil {
				f.OnMalformed()
			}
			continue
		}

		select {
		case tickCh <- tick:
			if f.OnTick != nil {
				f.OnTick(tick)
			}
		default:
			if f.OnDropped != nil {
				f.OnDropped()
			}
		}
	}
}

type aggTrade struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// ParseAggTrade decodes one aggTrade message. The price must be a positive
// decimal and the trade time present; anything else wraps ErrMalformed.
func ParseAggTrade(raw []byte) (model.Tick, error) {
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(wrapped.Data) > 0 {
		raw = wrapped.Data
	}

	var msg aggTrade
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: price %q", ErrMalformed, msg.Price)
	}
	if !price.IsPositive() {
		return model.Tick{}, fmt.Errorf("%w: non-positive price %s", ErrMalformed, price)
	}
	if msg.TradeTime <= 0 {
		return model.Tick{}, fmt.Errorf("%w: missing trade time", ErrMalformed)
	}
	return model.Tick{Price: price, TS: time.UnixMilli(msg.TradeTime).UTC()}, nil
}
