// Package ringbuf provides a fixed-capacity FIFO ring of model.Candle that
// overwrites its oldest entry when full. Push, Last and eviction are O(1).
//
// A Ring is not safe for concurrent use; the owner guards it with its own lock.
package ringbuf

import "btcalerts/internal/model"

// Ring keeps the newest capacity candles in chronological order.
type Ring struct {
	buf   []model.Candle
	start int // index of the oldest candle
	size  int
}

// New creates a ring holding at most capacity candles. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Candle, capacity)}
}

// Push appends a candle as the newest entry. When the ring is full the oldest
// candle is overwritten and Push returns true.
func (r *Ring) Push(c model.Candle) bool {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = c
		r.size++
		return false
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// Last returns a pointer to the newest candle for in-place updates,
// or nil when the ring is empty. The pointer is invalidated by the next Push.
func (r *Ring) Last() *model.Candle {
	if r.size == 0 {
		return nil
	}
	return &r.buf[(r.start+r.size-1)%len(r.buf)]
}

// At returns the i-th candle counting from the oldest.
func (r *Ring) At(i int) (model.Candle, bool) {
	if i < 0 || i >= r.size {
		return model.Candle{}, false
	}
	return r.buf[(r.start+i)%len(r.buf)], true
}

// Snapshot copies the contents, oldest first.
func (r *Ring) Snapshot() []model.Candle {
	out := make([]model.Candle, r.size)
	n := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[n:], r.buf[:r.size-n])
	return out
}

// Reset empties the ring without releasing its storage.
func (r *Ring) Reset() {
	clear(r.buf)
	r.start = 0
	r.size = 0
}

// Len returns the current number of candles.
func (r *Ring) Len() int { return r.size }
