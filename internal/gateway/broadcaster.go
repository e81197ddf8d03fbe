package gateway

import (
	"strconv"
	"time"
)

// Envelope types.
const (
	TypeUpdate = "update"
	TypeAlert  = "alert"
	TypeStatus = "status"
)

// buildEnvelope hand-crafts {"type":...,"data":...,"ts":"...","seq":N}.
// data must already be valid JSON.
func buildEnvelope(typ string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(typ)+len(data)+80)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// broadcast stamps the next seq and queues the envelope on every client.
// A client whose buffer is full misses this envelope; the next update is a
// full snapshot so it catches up on its own.
func (h *Hub) broadcast(typ string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	h.seq++
	env := buildEnvelope(typ, data, now, h.seq)
	if typ == TypeUpdate {
		h.latest = env
	}
	h.replay.Push(h.seq, env)

	dropped := 0
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 && h.OnDropped != nil {
		h.OnDropped(dropped)
	}
}
