// Package service holds the order intake and history query services that sit
// between the HTTP layer and the stores.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
	"github.com/calebwray/swapflow/internal/orderid"
)

// acceptedDetail is the trail detail written when an order enters the system.
const acceptedDetail = "Order accepted"

// IntakeService validates submitted orders, assigns IDs, seeds the history
// row, and hands the job to the queue. The HTTP handler returns as soon as
// SubmitOrder does; everything downstream is the worker's job.
type IntakeService struct {
	store  domain.HistoryStore
	queue  domain.Enqueuer
	sink   domain.StatusSink
	logger *slog.Logger
	now    func() time.Time
}

// NewIntakeService creates an IntakeService with all required dependencies.
func NewIntakeService(store domain.HistoryStore, queue domain.Enqueuer, sink domain.StatusSink, logger *slog.Logger) *IntakeService {
	return &IntakeService{
		store:  store,
		queue:  queue,
		sink:   sink,
		logger: logger.With(slog.String("component", "intake")),
		now:    time.Now,
	}
}

// SubmitOrder accepts a swap request into the pipeline. On success the
// returned job is already persisted as pending and enqueued. Validation
// failures return a *domain.ValidationError.
func (s *IntakeService) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderJob, error) {
	if issues := req.Validate(); len(issues) > 0 {
		return domain.OrderJob{}, &domain.ValidationError{Issues: issues}
	}

	now := s.now().UTC()
	job := domain.OrderJob{
		OrderRequest: req,
		OrderID:      orderid.New(),
		ReceivedAt:   now,
	}

	rec := domain.HistoryRecord{
		OrderID:   job.OrderID,
		OrderType: req.OrderType,
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		Amount:    req.Amount,
		Status:    domain.StatusPending,
		StatusHistory: []domain.StatusEntry{{
			Status:     domain.StatusPending,
			Detail:     acceptedDetail,
			RecordedAt: now,
		}},
		ReceivedAt: now,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return domain.OrderJob{}, fmt.Errorf("intake: persist order %s: %w", job.OrderID, err)
	}

	job.MarkEmitted(domain.StatusPending)
	s.sink.SendStatus(job.OrderID, domain.StatusPending, acceptedDetail, "")

	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The row stays for the audit trail; mark it failed so it does not
		// read as in-flight.
		detail := "Failed to queue order"
		if appendErr := s.store.AppendStatus(ctx, domain.StatusUpdate{
			OrderID:   job.OrderID,
			Status:    domain.StatusFailed,
			Detail:    detail,
			LastError: err.Error(),
		}); appendErr != nil {
			s.logger.ErrorContext(ctx, "mark unqueued order failed",
				slog.String("order_id", job.OrderID),
				slog.String("error", appendErr.Error()),
			)
		}
		s.sink.SendStatus(job.OrderID, domain.StatusFailed, detail, "")
		return domain.OrderJob{}, fmt.Errorf("intake: enqueue order %s: %w", job.OrderID, err)
	}

	s.logger.InfoContext(ctx, "order accepted",
		slog.String("order_id", job.OrderID),
		slog.String("token_in", req.TokenIn),
		slog.String("token_out", req.TokenOut),
		slog.Uint64("amount", req.Amount),
	)
	return job, nil
}
