package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
)

// OrderIntake accepts validated orders into the pipeline.
type OrderIntake interface {
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderJob, error)
}

// OrderReader answers history queries.
type OrderReader interface {
	List(ctx context.Context, opts domain.HistoryListOpts) (domain.HistoryPage, error)
	Get(ctx context.Context, orderID string) (domain.HistoryRecord, error)
}

// OrderHandler serves order submission and history endpoints.
type OrderHandler struct {
	intake  OrderIntake
	history OrderReader
	logger  *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(intake OrderIntake, history OrderReader, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		intake:  intake,
		history: history,
		logger:  logger,
	}
}

// executeResponse is the 202 body returned for an accepted order.
type executeResponse struct {
	OrderID string        `json:"orderId"`
	Status  domain.Status `json:"status"`
}

// invalidPayload is the 400 body for validation failures.
type invalidPayload struct {
	Message string         `json:"message"`
	Issues  []domain.Issue `json:"issues"`
}

// ExecuteOrder accepts a swap order and returns 202 once it is persisted and
// queued. Execution progress streams over the WebSocket endpoint.
// POST /api/orders/execute
func (h *OrderHandler) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, invalidPayload{
			Message: "Invalid payload",
			Issues:  []domain.Issue{{Field: "body", Message: "request body must be valid JSON"}},
		})
		return
	}

	job, err := h.intake.SubmitOrder(r.Context(), req)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, invalidPayload{
				Message: "Invalid payload",
				Issues:  ve.Issues,
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "order intake failed",
			slog.String("error", err.Error()),
		)
		writeMessage(w, http.StatusInternalServerError, "Failed to accept order")
		return
	}

	writeJSON(w, http.StatusAccepted, executeResponse{
		OrderID: job.OrderID,
		Status:  domain.StatusPending,
	})
}

// historyPagination is the pagination block of a history page response.
type historyPagination struct {
	Limit      int     `json:"limit"`
	NextCursor *string `json:"nextCursor"`
	HasMore    bool    `json:"hasMore"`
}

// historyResponse is the GET /api/orders/history envelope.
type historyResponse struct {
	Data       []domain.HistoryRecord `json:"data"`
	Pagination historyPagination      `json:"pagination"`
}

// ListHistory returns one page of orders, most recently updated first.
// GET /api/orders/history
func (h *OrderHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseHistoryOpts(r)

	page, err := h.history.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "history list failed",
			slog.String("error", err.Error()),
		)
		writeMessage(w, http.StatusInternalServerError, "Failed to load order history")
		return
	}

	if page.Records == nil {
		page.Records = []domain.HistoryRecord{}
	}

	// Mirror the store's clamp so the echoed limit matches what ran.
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var next *string
	if page.NextCursor != nil {
		v := page.NextCursor.Format(time.RFC3339Nano)
		next = &v
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Data: page.Records,
		Pagination: historyPagination{
			Limit:      limit,
			NextCursor: next,
			HasMore:    next != nil,
		},
	})
}

// GetOrder returns a single order's record including its status trail.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	rec, err := h.history.Get(r.Context(), orderID)
	if errors.Is(err, domain.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "order lookup failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		writeMessage(w, http.StatusInternalServerError, "Failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// NotFound is the JSON 404 for unmatched routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusNotFound, "Route not found")
}
