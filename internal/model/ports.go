package model

import "context"

// ── Presentation Port Interfaces ──
// These decouple the evaluation loop from the concrete transports
// (WebSocket hub, Redis pub/sub) that render or forward its output.

// Publisher receives every Update produced by the evaluator.
type Publisher interface {
	// Publish forwards the update. Implementations must not block for long;
	// a slow consumer should drop rather than stall the evaluation loop.
	Publish(ctx context.Context, u Update) error
}
