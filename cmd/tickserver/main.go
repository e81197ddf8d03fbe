// cmd/tickserver: Demo aggTrade WebSocket server.
// Broadcasts simulated BTC trades so the monitor can run in STAGING_MODE
// without reaching the exchange.
//
// Message shape matches the exchange aggTrade stream:
//
//	{"e":"aggTrade","E":1700000000123,"s":"BTCUSDT","p":"43250.12","q":"0.015","T":1700000000120}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address  (default: ":9001")
//	TICK_SYMBOL  symbol reported in each trade (default: "BTCUSDT")
//	TICK_START_PRICE  initial price (default: "43000")
//	TICK_INTERVAL_MS  broadcast interval milliseconds (default: "100")
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"btcalerts/internal/logger"
)

// aggTrade mirrors the exchange aggregate-trade event.
type aggTrade struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop trade
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade error", "error", err)
			return
		}
		slog.Info("client connected", "remote", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("client disconnected", "remote", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ──────────────────────────────────────────────────────────

// walkPrice applies a random step of at most ±0.05 % and keeps two decimals.
func walkPrice(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat((rng.Float64()*0.1 - 0.05) / 100)
	next := price.Add(price.Mul(pct)).Round(2)
	if !next.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return next
}

func runGenerator(h *hub, symbol string, price decimal.Decimal, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for now := range ticker.C {
		price = walkPrice(rng, price)
		ms := now.UnixMilli()
		b, err := json.Marshal(aggTrade{
			Event:     "aggTrade",
			EventTime: ms,
			Symbol:    symbol,
			Price:     price.StringFixed(2),
			Qty:       decimal.NewFromFloat(rng.Float64()).StringFixed(3),
			TradeTime: ms,
		})
		if err != nil {
			continue
		}
		h.broadcast(b)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	logger.Init("tickserver", logger.ParseLevel(envOrDefault("LOG_LEVEL", "info")))

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	symbol := envOrDefault("TICK_SYMBOL", "BTCUSDT")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)
	start, err := decimal.NewFromString(envOrDefault("TICK_START_PRICE", "43000"))
	if err != nil || !start.IsPositive() {
		slog.Error("TICK_START_PRICE must be a positive number", "error", err)
		os.Exit(1)
	}
	if intervalMs <= 0 {
		intervalMs = 100
	}
	slog.Info("starting demo trade server", "symbol", symbol, "start", start.String(), "interval_ms", intervalMs)

	h := newHub()
	go runGenerator(h, symbol, start, time.Duration(intervalMs)*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	slog.Info("listening", "addr", addr, "ws", "ws://localhost"+addr+"/ws")
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
