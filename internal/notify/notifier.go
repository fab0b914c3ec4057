// Package notify delivers operator alerts over one or more channels.
// Notifications carry an event type and are filtered against the configured
// allow-list, so operators only receive the alert classes they opted into.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the bot.
const (
	EventBreakerTripped = "breaker_tripped"
	EventExposure       = "exposure"
	EventArbExecuted    = "arb_executed"
	EventDailyReport    = "daily_report"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier fans notifications out to its senders, filtered by event type. An
// empty allow-list passes everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to senders, forwarding only the listed
// event types.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
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

// Notify sends a notification if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Alert sends an unconditional notification. The execution engine uses it
// for exposure alerts that must never be filtered out; delivery errors are
// logged, not returned, so alerting never blocks the trading path.
func (n *Notifier) Alert(ctx context.Context, title, message string) {
	if err := n.dispatch(ctx, title, message); err != nil {
		n.logger.ErrorContext(ctx, "alert delivery incomplete",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch delivers to every sender. A failing sender does not stop delivery
// to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
