// Package hub maintains the per-order registry of status subscribers and the
// per-order backlog of messages sent before a subscriber attached. It is
// transport-agnostic; the WebSocket layer adapts connections to Subscriber.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/calebwray/swapflow/internal/domain"
)

// Subscriber is one client-side endpoint of a per-order update channel.
// Send must not block; implementations report an error when the channel is
// no longer writable, which the hub treats as a disconnect.
type Subscriber interface {
	Send(data []byte) error
	Close() error
}

// Hub maps orderId to at most one subscriber, buffering messages for orders
// with no subscriber attached. Per-order ordering is preserved; across
// orders no ordering is guaranteed. All operations are O(1) outside the
// backlog drain on attach.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]Subscriber
	backlog map[string][][]byte
	logger  *slog.Logger
}

// New creates an empty Hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		subs:    make(map[string]Subscriber),
		backlog: make(map[string][][]byte),
		logger:  logger.With(slog.String("component", "hub")),
	}
}

// Attach registers sub for orderID, replacing (and closing) any previous
// subscriber, then drains the buffered backlog to it in insertion order. If a
// buffered delivery fails the subscriber is dropped and the undelivered
// messages are retained.
func (h *Hub) Attach(orderID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.subs[orderID]; ok && prev != sub {
		_ = prev.Close()
	}
	h.subs[orderID] = sub

	pending := h.backlog[orderID]
	delete(h.backlog, orderID)

	for i, data := range pending {
		if err := sub.Send(data); err != nil {
			h.logger.Warn("backlog delivery failed, detaching subscriber",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
			// Keep the undelivered tail for a future subscriber.
			h.backlog[orderID] = pending[i:]
			delete(h.subs, orderID)
			_ = sub.Close()
			return
		}
	}

	h.logger.Debug("subscriber attached",
		slog.String("order_id", orderID),
		slog.Int("drained", len(pending)),
	)
}

// Detach removes the registration for orderID and closes the subscriber.
// Messages sent afterwards accumulate in the backlog.
func (h *Hub) Detach(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[orderID]; ok {
		delete(h.subs, orderID)
		_ = sub.Close()
		h.logger.Debug("subscriber detached", slog.String("order_id", orderID))
	}
}

// DetachIf removes the registration for orderID only when sub is still the
// attached subscriber. Connection teardown paths use it so a stale pump
// never detaches its replacement.
func (h *Hub) DetachIf(orderID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.subs[orderID]; ok && cur == sub {
		delete(h.subs, orderID)
		_ = cur.Close()
		h.logger.Debug("subscriber detached", slog.String("order_id", orderID))
	}
}

// Send delivers msg to the order's subscriber if one is attached and
// writable; otherwise it appends to the order's backlog. Never blocks.
func (h *Hub) Send(orderID string, msg domain.StatusMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal status message",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[orderID]
	if !ok {
		h.backlog[orderID] = append(h.backlog[orderID], data)
		return
	}
	if err := sub.Send(data); err != nil {
		// Channel errors demote to detach; the message is retained.
		h.logger.Warn("subscriber write failed, detaching",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		delete(h.subs, orderID)
		_ = sub.Close()
		h.backlog[orderID] = append(h.backlog[orderID], data)
	}
}

// SendStatus is a convenience wrapper building the StatusMessage for Send.
func (h *Hub) SendStatus(orderID string, status domain.Status, detail, link string) {
	h.Send(orderID, domain.StatusMessage{
		OrderID: orderID,
		Status:  status,
		Detail:  detail,
		Link:    link,
	})
}

// Subscribers returns the number of currently attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Compile-time interface check.
var _ domain.StatusSink = (*Hub)(nil)
