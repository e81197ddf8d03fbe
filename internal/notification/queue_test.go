package notification

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_SendDoesNotBlockOnSlowBackend(t *testing.T) {
	release := make(chan struct{})
	slow := NotifierFunc(func(ctx context.Context, _ Alert) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	q := NewQueue(slow, 4, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := q.Send(context.Background(), Alert{Key: "k"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("Send blocked for %v", d)
	}
	close(release)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(NotifierFunc(func(context.Context, Alert) error { return nil }), 2, 0)

	// Run is not started, so the buffer fills.
	for i := 0; i < 2; i++ {
		if err := q.Send(context.Background(), Alert{}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := q.Send(context.Background(), Alert{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if n := len(q.ch); n != 2 {
		t.Fatalf("queued = %d, want 2", n)
	}
}

func TestQueue_DeliversInOrderAndReportsErrors(t *testing.T) {
	var got []string
	done := make(chan struct{})
	boom := errors.New("backend down")
	next := NotifierFunc(func(_ context.Context, a Alert) error {
		got = append(got, a.Key)
		if len(got) == 3 {
			close(done)
		}
		if a.Key == "b" {
			return boom
		}
		return nil
	})

	var failures atomic.Int32
	q := NewQueue(next, 8, time.Second)
	q.OnError = func(err error) {
		if errors.Is(err, boom) {
			failures.Add(1)
		}
	}
	for _, k := range []string{"a", "b", "c"} {
		q.Send(context.Background(), Alert{Key: k})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alerts not delivered")
	}
	cancel()

	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("delivery order = %v", got)
	}
	// OnError runs after the backend returns; give the last call a moment.
	deadline := time.Now().Add(time.Second)
	for failures.Load() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if failures.Load() != 1 {
		t.Fatalf("expected 1 reported failure, got %d", failures.Load())
	}
}

func TestQueue_DeliveryTimeout(t *testing.T) {
	errCh := make(chan error, 1)
	next := NotifierFunc(func(ctx context.Context, _ Alert) error {
		<-ctx.Done()
		return ctx.Err()
	})
	q := NewQueue(next, 1, 20*time.Millisecond)
	q.OnError = func(err error) { errCh <- err }
	q.Send(context.Background(), Alert{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not bounded by the timeout")
	}
}
