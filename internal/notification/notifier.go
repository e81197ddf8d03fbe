// Package notification provides alert delivery to external channels
// (log, Telegram, webhooks, the dashboard hub, the alert journal).
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert kinds.
const (
	KindIndicator = "indicator"
	KindPrice     = "price"
	KindSystem    = "system"
)

// Alert represents a notification to be sent.
type Alert struct {
	ID      string     `json:"id"`
	Level   AlertLevel `json:"level"`
	Kind    string     `json:"kind"`
	Key     string     `json:"key,omitempty"` // dedup key, e.g. "1m_EMA20"
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Price   float64    `json:"price"`
	TS      time.Time  `json:"ts"`
}

// NewAlert stamps a fresh ID and timestamp.
func NewAlert(level AlertLevel, kind, key, title, message string, price float64) Alert {
	return Alert{
		ID:      uuid.NewString(),
		Level:   level,
		Kind:    kind,
		Key:     key,
		Title:   title,
		Message: message,
		Price:   price,
		TS:      time.Now().UTC(),
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, alert Alert) error

func (f NotifierFunc) Send(ctx context.Context, alert Alert) error { return f(ctx, alert) }

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, alert.Title,
		"level", alert.Level,
		"kind", alert.Kind,
		"key", alert.Key,
		"message", alert.Message,
		"price", alert.Price,
	)
	return nil
}

// Multi fans an alert out to every backend. Every backend is attempted;
// failures are joined into one error.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a fan-out notifier. Nil entries are skipped.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		m.Add(n)
	}
	return m
}

// Add registers another backend. Not safe to call concurrently with Send.
func (m *Multi) Add(n Notifier) {
	if n != nil {
		m.notifiers = append(m.notifiers, n)
	}
}

// Len returns the number of registered backends.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
