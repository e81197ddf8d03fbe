package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrQueueFull is returned by Queue.Send when the delivery buffer is full.
var ErrQueueFull = errors.New("notification: queue full")

const defaultDeliveryTimeout = 15 * time.Second

// Queue decouples alert producers from slow backends: Send only enqueues,
// and Run delivers to the wrapped notifier in its own goroutine. When the
// buffer is full the alert is dropped and ErrQueueFull returned.
type Queue struct {
	next    Notifier
	ch      chan Alert
	timeout time.Duration
	log     *slog.Logger

	// OnError is called for every failed delivery (optional, for metrics).
	OnError func(err error)
}

// NewQueue wraps next with a buffer of size alerts. timeout bounds each
// delivery; zero means 15s.
func NewQueue(next Notifier, size int, timeout time.Duration) *Queue {
	if size < 1 {
		size = 1
	}
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Queue{
		next:    next,
		ch:      make(chan Alert, size),
		timeout: timeout,
		log:     slog.With("component", "notify-queue"),
	}
}

// Send enqueues the alert without blocking.
func (q *Queue) Send(_ context.Context, alert Alert) error {
	select {
	case q.ch <- alert:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.ch); n > 0 {
				q.log.Warn("undelivered alerts at shutdown", "count", n)
			}
			return
		case a := <-q.ch:
			q.deliver(ctx, a)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, a Alert) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.next.Send(ctx, a); err != nil {
		q.log.Warn("alert delivery failed", "key", a.Key, "error", err)
		if q.OnError != nil {
			q.OnError(err)
		}
	}
}
