// Package ws adapts WebSocket connections into per-order status subscribers
// registered with the hub.
package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calebwray/swapflow/internal/hub"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message. Clients
	// only send control frames, so this stays small.
	maxMessageSize = 512

	// sendBufferSize is the channel buffer for outgoing frames per client.
	sendBufferSize = 64
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// Handler upgrades status-stream requests and hands the connection to the
// hub as a subscriber.
type Handler struct {
	hub    *hub.Hub
	logger *slog.Logger
}

// NewHandler creates a ws Handler over h.
func NewHandler(h *hub.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    h,
		logger: logger.With(slog.String("component", "ws")),
	}
}

// HandleWS upgrades the request and attaches the connection as the order's
// subscriber. Buffered frames for the order are delivered immediately after
// attach, in order.
// GET /api/orders/execute?orderId=...
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	if orderID == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "orderId query param required")
		return
	}

	sub := newSubscriber(conn)
	go sub.writePump()
	go sub.readPump(func() {
		h.hub.DetachIf(orderID, sub)
	})

	h.hub.Attach(orderID, sub)
	h.logger.Info("status stream opened", slog.String("order_id", orderID))
}

// closeWith sends a close frame with the given code and reason, then drops
// the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// subscriber adapts one WebSocket connection to hub.Subscriber. Send is
// non-blocking: a full buffer counts as a failed delivery, which makes the
// hub detach the connection and buffer instead.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Send queues one frame for delivery. It never blocks.
func (s *subscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("ws: subscriber closed")
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errors.New("ws: send buffer full")
	}
}

// Close shuts the send channel down; the write pump finishes the close
// handshake. Safe to call multiple times.
func (s *subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.send)
	return nil
}

// writePump delivers queued frames and keeps the connection alive with
// pings. It owns all writes to the connection.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames so control messages are processed, and
// fires onGone when the peer disappears.
func (s *subscriber) readPump(onGone func()) {
	defer func() {
		_ = s.Close()
		if onGone != nil {
			onGone()
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Compile-time interface check.
var _ hub.Subscriber = (*subscriber)(nil)
