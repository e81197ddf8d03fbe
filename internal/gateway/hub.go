// Package gateway is the dashboard adapter: a WebSocket hub that pushes
// every evaluation Update and fired alert to browsers, and the gin REST API
// through which the dashboard reads state and changes rules and positions.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"btcalerts/internal/model"
	"btcalerts/internal/notification"
)

const clientSendBuffer = 256

// Hub manages WebSocket clients and fans envelopes out to them.
// It is both a model.Publisher (updates) and a notification.Notifier (alerts).
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     int64
	latest  []byte // last update envelope, sent to new clients
	replay  *ReplayBuffer
	closed  bool

	log *slog.Logger

	// OnClientsChanged is called with the new client count (optional).
	OnClientsChanged func(n int)
	// OnDropped is called with the number of clients that missed an envelope.
	OnDropped func(n int)
}

// NewHub creates a hub keeping replaySize recent envelopes for reconnecting clients.
func NewHub(replaySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		replay:  NewReplayBuffer(replaySize),
		log:     slog.With("component", "gateway"),
	}
}

// Publish pushes an evaluation Update to every client.
func (h *Hub) Publish(_ context.Context, u model.Update) error {
	h.broadcast(TypeUpdate, u.JSON())
	return nil
}

// Send pushes a fired alert to every client.
func (h *Hub) Send(_ context.Context, a notification.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("gateway: encode alert: %w", err)
	}
	h.broadcast(TypeAlert, data)
	return nil
}

// Serve registers an upgraded connection and starts its pumps. Clients that
// pass since > 0 receive the buffered envelopes after that seq; others get
// the latest update.
func (h *Hub) Serve(conn *websocket.Conn, since int64) *Client {
	c := newClient(h, conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	var backlog [][]byte
	if since > 0 {
		backlog = h.replay.Since(since)
	} else if h.latest != nil {
		backlog = [][]byte{h.latest}
	}
	for _, env := range backlog {
		select {
		case c.send <- env:
		default:
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "client", c.id, "clients", n, "backlog", len(backlog))
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(n)
	}

	if conn != nil {
		go c.writePump()
		go c.readPump()
	}
	return c
}

// remove unregisters a client and closes its send channel. Safe to call twice.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", "client", c.id, "clients", n)
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(n)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client; later Serve calls are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(0)
	}
}
