// Package history seeds the candle aggregator with recent klines from the
// exchange REST API so indicators are warm at startup.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
)

// ErrUnsupportedInterval is returned for timeframes the exchange has no kline interval for.
var ErrUnsupportedInterval = errors.New("history: unsupported kline interval")

// Binance kline intervals.
var intervals = map[int]string{
	60: "1m", 180: "3m", 300: "5m", 900: "15m", 1800: "30m",
	3600: "1h", 7200: "2h", 14400: "4h", 21600: "6h", 28800: "8h", 43200: "12h",
	86400: "1d", 259200: "3d", 604800: "1w",
}

// Interval returns the kline interval name for tf seconds.
func Interval(tf int) (string, error) {
	if s, ok := intervals[tf]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %ds", ErrUnsupportedInterval, tf)
}

// Loader is the write side of the aggregator used by Bootstrap.
type Loader interface {
	Load(tf int, candles []model.Candle) error
}

// Client fetches klines for one symbol.
type Client struct {
	baseURL string
	symbol  string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a kline client against baseURL (e.g. https://api.binance.com).
func NewClient(baseURL, symbol string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbol:  strings.ToUpper(symbol),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     slog.With("component", "history"),
	}
}

// Fetch returns up to limit most recent candles for tf, oldest first.
func (c *Client) Fetch(ctx context.Context, tf, limit int) ([]model.Candle, error) {
	interval, err := Interval(tf)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbol", c.symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("history: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: fetch %s: %w", interval, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("history: fetch %s: status %d: %s", interval, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", interval, err)
	}
	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		cd, err := parseKline(tf, row)
		if err != nil {
			return nil, fmt.Errorf("history: %s row %d: %w", interval, i, err)
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

// parseKline decodes [openTimeMs, "open", "high", "low", "close", ...].
func parseKline(tf int, row []json.RawMessage) (model.Candle, error) {
	if len(row) < 5 {
		return model.Candle{}, fmt.Errorf("expected at least 5 fields, got %d", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}
	var px [4]decimal.Decimal
	for i := range px {
		if err := px[i].UnmarshalJSON(row[i+1]); err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return model.Candle{
		TF:       tf,
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     px[0],
		High:     px[1],
		Low:      px[2],
		Close:    px[3],
	}, nil
}

// Bootstrap loads limit candles for every tf into dst. Failures are logged
// and skipped so a partial history never blocks startup. It returns the
// number of timeframes loaded.
func (c *Client) Bootstrap(ctx context.Context, dst Loader, tfs []model.Timeframe, limit int) int {
	loaded := 0
	for _, tf := range tfs {
		candles, err := c.Fetch(ctx, tf.Seconds, limit)
		if err == nil {
			err = dst.Load(tf.Seconds, candles)
		}
		if err != nil {
			c.log.Warn("history bootstrap failed", "tf", tf.Label(), "error", err)
			continue
		}
		loaded++
		c.log.Info("history loaded", "tf", tf.Label(), "candles", len(candles))
	}
	return loaded
}
