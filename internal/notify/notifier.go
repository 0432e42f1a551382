// Package notify delivers operator alerts about the order lifecycle. Alerts
// fan out to every configured channel (Telegram, Discord) and are filtered by
// event type so operators receive only what they subscribed to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Events emitted by the scheduler.
const (
	EventOrderExecuted = "order_executed"
	EventOrderFailed   = "order_failed"
	EventOrderExpired  = "order_expired"
	EventMonitorError  = "monitor_error"
)

// Alert is one operator notification. OrderID and Pair are set for
// order-scoped events and empty for loop-level ones.
type Alert struct {
	Event   string
	Title   string
	Body    string
	OrderID string
	Pair    string
}

// Sender delivers one rendered alert over a single channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	// Name identifies the channel, e.g. "telegram".
	Name() string
}

// Notifier fans alerts out to the configured senders, filtered by the
// subscribed event set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only alerts
// whose event appears in events are forwarded; an empty list subscribes to
// everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender if its event is subscribed.
// A failing sender never blocks delivery to the others; failures are
// collected into one combined error.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("event", a.Event),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
			slog.String("order_id", a.OrderID),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
