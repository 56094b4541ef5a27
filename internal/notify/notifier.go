// Package notify delivers operator alerts for terminal order events.
// Alerts fan out to all configured senders (Telegram, Discord) and can be
// narrowed to specific event types.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calebwray/swapflow/internal/domain"
)

// Event types emitted by the pipeline.
const (
	EventOrderConfirmed = "order_confirmed"
	EventOrderFailed    = "order_failed"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans order events out to its senders. An empty allow-list lets
// every event through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders, restricted to the
// given event types when the list is non-empty.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// OrderConfirmed announces a confirmed swap with its transaction link.
func (n *Notifier) OrderConfirmed(ctx context.Context, job *domain.OrderJob, link string) {
	msg := fmt.Sprintf("%s %s -> %s swap confirmed.\nAmount in: %d\nTx: %s",
		job.OrderID, job.TokenIn, job.TokenOut, job.Amount, link)
	n.notify(ctx, EventOrderConfirmed, "Swap confirmed", msg)
}

// OrderFailed announces a terminally failed order with its last error.
func (n *Notifier) OrderFailed(ctx context.Context, job *domain.OrderJob, detail string) {
	msg := fmt.Sprintf("%s %s -> %s failed.\n%s", job.OrderID, job.TokenIn, job.TokenOut, detail)
	if job.LastError != "" {
		msg += "\nLast error: " + job.LastError
	}
	n.notify(ctx, EventOrderFailed, "Swap failed", msg)
}

// notify filters by event type and dispatches to every sender. A failing
// sender never blocks the rest; delivery is best effort and errors are only
// logged.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
}
