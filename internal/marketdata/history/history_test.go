package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"btcalerts/internal/marketdata/agg"
	"btcalerts/internal/model"
)

// klines renders n one-minute rows starting at start with close = 100+i.
func klines(start time.Time, step time.Duration, n int) string {
	rows := make([]string, n)
	for i := range rows {
		c := 100 + i
		rows[i] = fmt.Sprintf(`[%d,"%d.00","%d.50","%d.00","%d.00","1.0",%d,"0",1,"0","0","0"]`,
			start.Add(time.Duration(i)*step).UnixMilli(), c, c, c-1, c, start.UnixMilli())
	}
	return "[" + strings.Join(rows, ",") + "]"
}

func TestInterval(t *testing.T) {
	cases := map[int]string{60: "1m", 1800: "30m", 3600: "1h", 14400: "4h", 86400: "1d"}
	for tf, want := range cases {
		if got, err := Interval(tf); err != nil || got != want {
			t.Errorf("Interval(%d) = %q, %v; want %q", tf, got, err, want)
		}
	}
	if _, err := Interval(90); !errors.Is(err, ErrUnsupportedInterval) {
		t.Errorf("expected ErrUnsupportedInterval, got %v", err)
	}
}

func TestFetch(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.RawQuery
		fmt.Fprint(w, klines(start, time.Minute, 3))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "btcusdt")
	got, err := c.Fetch(context.Background(), 60, 3)
	if err != nil {
		t.Fatal(err)
	}
	if query != "interval=1m&limit=3&symbol=BTCUSDT" {
		t.Errorf("unexpected query %q", query)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	first := got[0]
	if first.TF != 60 || !first.OpenTime.Equal(start) {
		t.Errorf("unexpected first candle %+v", first)
	}
	if !first.High.Equal(decimal.RequireFromString("100.5")) || !first.Low.Equal(decimal.NewFromInt(99)) {
		t.Errorf("unexpected OHLC %+v", first)
	}
	if !got[2].Close.Equal(decimal.NewFromInt(102)) {
		t.Errorf("last close = %s", got[2].Close)
	}
}

func TestFetch_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("interval") {
		case "1m":
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
		case "1h":
			fmt.Fprint(w, `[[1,"a","b"]]`)
		default:
			fmt.Fprint(w, `{not json`)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "BTCUSDT")

	if _, err := c.Fetch(context.Background(), 60, 10); err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got %v", err)
	}
	if _, err := c.Fetch(context.Background(), 3600, 10); err == nil {
		t.Error("short row should fail")
	}
	if _, err := c.Fetch(context.Background(), 14400, 10); err == nil {
		t.Error("bad JSON should fail")
	}
	if _, err := c.Fetch(context.Background(), 45, 10); !errors.Is(err, ErrUnsupportedInterval) {
		t.Errorf("expected ErrUnsupportedInterval, got %v", err)
	}
}

func TestBootstrap_LoadsAndTrims(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") == "4h" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, klines(start, time.Minute, 12))
	}))
	defer srv.Close()

	tfs := []model.Timeframe{{Seconds: 60}, {Seconds: 14400}}
	a := agg.New(tfs, 10)
	n := NewClient(srv.URL, "BTCUSDT").Bootstrap(context.Background(), a, tfs, 12)
	if n != 1 {
		t.Fatalf("expected 1 timeframe loaded, got %d", n)
	}

	snap := a.Snapshot(60)
	if len(snap) != 10 {
		t.Fatalf("expected trim to capacity 10, got %d", len(snap))
	}
	if !snap[0].Close.Equal(decimal.NewFromInt(102)) || !snap[9].Close.Equal(decimal.NewFromInt(111)) {
		t.Errorf("expected newest 10 candles, got first=%s last=%s", snap[0].Close, snap[9].Close)
	}
	if len(a.Snapshot(14400)) != 0 {
		t.Error("failed timeframe should stay empty")
	}
}
