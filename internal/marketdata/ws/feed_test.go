package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"btcalerts/internal/model"
)

func TestParseAggTrade(t *testing.T) {
	tick, err := ParseAggTrade([]byte(`{"e":"aggTrade","s":"BTCUSDT","p":"50000.12","q":"0.5","T":1709251200123}`))
	if err != nil {
		t.Fatal(err)
	}
	if !tick.Price.Equal(decimal.RequireFromString("50000.12")) {
		t.Errorf("price = %s", tick.Price)
	}
	if want := time.UnixMilli(1709251200123).UTC(); !tick.TS.Equal(want) {
		t.Errorf("ts = %v, want %v", tick.TS, want)
	}

	wrapped, err := ParseAggTrade([]byte(`{"stream":"btcusdt@aggTrade","data":{"p":"1.5","T":1}}`))
	if err != nil || !wrapped.Price.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("combined stream: %v %+v", err, wrapped)
	}
}

func TestParseAggTrade_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"p":`,
		"bad price":      `{"p":"abc","T":1}`,
		"empty price":    `{"T":1}`,
		"zero price":     `{"p":"0","T":1}`,
		"negative price": `{"p":"-1.0","T":1}`,
		"no time":        `{"p":"100"}`,
		"numeric price":  `{"p":100,"T":1}`,
	}
	for name, raw := range cases {
		if _, err := ParseAggTrade([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestNew_RejectsNonWebSocketURL(t *testing.T) {
	if _, err := New(Config{URL: "http://example.com"}); err == nil {
		t.Error("http scheme should be rejected")
	}
	if _, err := New(Config{URL: "wss://fstream.binance.com/ws/btcusdt@aggTrade"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// tradeServer sends msgs to each connection, then holds it open.
func tradeServer(t *testing.T, msgs []string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestFeed_StreamsValidTicks(t *testing.T) {
	srv := tradeServer(t, []string{
		`{"p":"100.5","T":1000}`,
		`{"p":"-1","T":2000}`,
		`garbage`,
		`{"p":"101","T":3000}`,
	})
	defer srv.Close()

	f, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err != nil {
		t.Fatal(err)
	}
	var malformed, connects atomic.Int32
	f.OnMalformed = func() { malformed.Add(1) }
	f.OnConnect = func(up bool) {
		if up {
			connects.Add(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	tickCh := make(chan model.Tick, 10)
	done := make(chan error, 1)
	go func() { done <- f.Start(ctx, tickCh) }()

	var got []model.Tick
	for len(got) < 2 {
		select {
		case tk := <-tickCh:
			got = append(got, tk)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d ticks", len(got))
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if !got[0].Price.Equal(decimal.RequireFromString("100.5")) || !got[1].Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("unexpected ticks %+v", got)
	}
	if malformed.Load() != 2 {
		t.Errorf("malformed = %d, want 2", malformed.Load())
	}
	if connects.Load() != 1 {
		t.Errorf("connects = %d, want 1", connects.Load())
	}
}

func TestFeed_DropsWhenChannelFull(t *testing.T) {
	srv := tradeServer(t, []string{`{"p":"1","T":1}`, `{"p":"2","T":2}`, `{"p":"3","T":3}`})
	defer srv.Close()

	f, _ := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	var dropped atomic.Int32
	f.OnDropped = func() { dropped.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tickCh := make(chan model.Tick, 1)
	go f.Start(ctx, tickCh)

	deadline := time.Now().Add(2 * time.Second)
	for dropped.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if dropped.Load() != 2 {
		t.Fatalf("dropped = %d, want 2", dropped.Load())
	}
	if tk := <-tickCh; !tk.Price.Equal(decimal.NewFromInt(1)) {
		t.Errorf("first tick should be kept, got %s", tk.Price)
	}
}

func TestFeed_ReconnectsAfterDisconnect(t *testing.T) {
	var conns atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		conn.Close() // drop immediately
	}))
	defer srv.Close()

	f, _ := New(Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	})
	var reconnects atomic.Int32
	f.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Start(ctx, make(chan model.Tick, 1))

	deadline := time.Now().Add(2 * time.Second)
	for conns.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conns.Load() < 3 || reconnects.Load() < 2 {
		t.Fatalf("expected repeated reconnects, conns=%d reconnects=%d", conns.Load(), reconnects.Load())
	}
}
