// Package worker drives queued orders through routing, transaction build,
// and chain submission, emitting lifecycle statuses as it goes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
	"github.com/calebwray/swapflow/internal/router"
)

const (
	// rateLimitKey is the shared gate all order executions count against.
	rateLimitKey = "orders:execute"

	// rateWindow is the window the execution limit applies to.
	rateWindow = time.Minute

	// ratePollInterval is the pause between gate checks while throttled.
	ratePollInterval = 200 * time.Millisecond
)

// RouteFinder selects the winning venue for a job. *router.Router satisfies
// it.
type RouteFinder interface {
	FindBestRoute(ctx context.Context, job domain.OrderJob) (domain.RoutePlan, domain.RoutingDecision, error)
}

// Config holds worker construction parameters.
type Config struct {
	// RateLimit is the maximum number of executions started per minute.
	// Values below 1 are treated as 1.
	RateLimit int
}

// Worker processes one job at a time per queue consumer. Status emission is
// idempotent across redeliveries: the job's emitted set travels with the
// payload, so a crash between emit and ack never duplicates a frame.
type Worker struct {
	store     domain.HistoryStore
	sink      domain.StatusSink
	routes    RouteFinder
	limiter   domain.RateLimiter
	chain     domain.ChainSubmitter
	signerPub string
	rateLimit int
	logger    *slog.Logger
}

// New creates a Worker with all required dependencies.
func New(
	store domain.HistoryStore,
	sink domain.StatusSink,
	routes RouteFinder,
	limiter domain.RateLimiter,
	chain domain.ChainSubmitter,
	signerPub string,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	rateLimit := cfg.RateLimit
	if rateLimit < 1 {
		rateLimit = 1
	}
	return &Worker{
		store:     store,
		sink:      sink,
		routes:    routes,
		limiter:   limiter,
		chain:     chain,
		signerPub: signerPub,
		rateLimit: rateLimit,
		logger:    logger.With(slog.String("component", "worker")),
	}
}

// Process runs one delivery of job through the pipeline. A non-nil return
// hands the job back to the queue for retry or dead-lettering; terminal
// failure emission happens in HandleFinalFailure, not here.
func (w *Worker) Process(ctx context.Context, job *domain.OrderJob) error {
	w.emit(ctx, job, domain.StatusUpdate{
		OrderID: job.OrderID,
		Status:  domain.StatusQueued,
		Detail:  "Order queued for execution",
	})

	if err := w.waitForRateSlot(ctx, job); err != nil {
		job.LastError = err.Error()
		return err
	}

	w.emit(ctx, job, domain.StatusUpdate{
		OrderID: job.OrderID,
		Status:  domain.StatusRouting,
		Detail:  "Finding best route",
	})

	plan, decision, err := w.routes.FindBestRoute(ctx, *job)
	if err != nil {
		job.LastError = err.Error()
		return fmt.Errorf("worker: route order %s: %w", job.OrderID, err)
	}
	if err := w.store.RecordRoutingDecision(ctx, job.OrderID, plan.Quote); err != nil {
		// The decision is advisory data; execution continues without it.
		w.logger.WarnContext(ctx, "record routing decision failed",
			slog.String("order_id", job.OrderID),
			slog.String("error", err.Error()),
		)
	}
	w.logger.InfoContext(ctx, "route selected",
		slog.String("order_id", job.OrderID),
		slog.String("venue", decision.Winner),
		slog.Uint64("estimated_out", plan.Quote.EstimatedOut),
	)

	w.emit(ctx, job, domain.StatusUpdate{
		OrderID: job.OrderID,
		Status:  domain.StatusBuilding,
		Detail:  "Building transaction on " + plan.Winner.Name(),
		Venue:   plan.Winner.Name(),
	})

	built, err := router.BuildTransaction(ctx, plan, *job, w.signerPub)
	if err != nil {
		job.LastError = err.Error()
		return fmt.Errorf("worker: build transaction for %s: %w", job.OrderID, err)
	}

	sig, err := w.chain.SubmitAndConfirm(ctx, built, func(signature string) {
		job.LastTxSignature = signature
		w.emit(ctx, job, domain.StatusUpdate{
			OrderID: job.OrderID,
			Status:  domain.StatusSubmitted,
			Detail:  "Transaction submitted",
			Link:    w.chain.ExplorerLink(signature),
			TxHash:  signature,
		})
	})
	if err != nil {
		job.LastError = err.Error()
		return fmt.Errorf("worker: submit order %s: %w", job.OrderID, err)
	}

	w.emit(ctx, job, domain.StatusUpdate{
		OrderID:        job.OrderID,
		Status:         domain.StatusConfirmed,
		Detail:         "Swap confirmed",
		Link:           w.chain.ExplorerLink(sig),
		TxHash:         sig,
		ExecutedAmount: strconv.FormatUint(plan.Quote.EstimatedOut, 10),
	})

	w.logger.InfoContext(ctx, "order confirmed",
		slog.String("order_id", job.OrderID),
		slog.String("signature", sig),
	)
	return nil
}

// HandleFinalFailure is the queue's give-up hook: it records the terminal
// failed status and notifies subscribers. Safe to call for jobs that already
// emitted failed.
func (w *Worker) HandleFinalFailure(ctx context.Context, job domain.OrderJob, cause error) {
	detail := failureDetail(cause)
	w.emit(ctx, &job, domain.StatusUpdate{
		OrderID:   job.OrderID,
		Status:    domain.StatusFailed,
		Detail:    detail,
		LastError: cause.Error(),
	})
	w.logger.WarnContext(ctx, "order failed",
		slog.String("order_id", job.OrderID),
		slog.String("cause", cause.Error()),
	)
}

// failureDetail maps the terminal error onto the subscriber-facing message.
func failureDetail(err error) string {
	var nq *domain.NoQuotesError
	if errors.As(err, &nq) {
		return "Unable to fetch quotes from any venue"
	}
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "Insufficient balance for swap"
	case errors.Is(err, domain.ErrChainSubmit):
		return "Transaction failed on chain"
	default:
		return "Order execution failed"
	}
}

// waitForRateSlot blocks until the shared execution gate admits this order.
func (w *Worker) waitForRateSlot(ctx context.Context, job *domain.OrderJob) error {
	for {
		allowed, err := w.limiter.Allow(ctx, rateLimitKey, w.rateLimit, rateWindow)
		if err != nil {
			return fmt.Errorf("worker: rate gate for %s: %w", job.OrderID, err)
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(ratePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("worker: rate gate for %s: %w", job.OrderID, ctx.Err())
		case <-timer.C:
		}
	}
}

// emit persists one status transition and broadcasts it, once per job
// lifetime. Redelivered jobs skip statuses they already emitted.
func (w *Worker) emit(ctx context.Context, job *domain.OrderJob, upd domain.StatusUpdate) {
	if job.Emitted(upd.Status) {
		return
	}
	if err := w.store.AppendStatus(ctx, upd); err != nil {
		// The trail is best-effort during processing; the status frame still
		// goes out so subscribers track progress.
		w.logger.ErrorContext(ctx, "append status failed",
			slog.String("order_id", job.OrderID),
			slog.String("status", string(upd.Status)),
			slog.String("error", err.Error()),
		)
	}
	w.sink.SendStatus(job.OrderID, upd.Status, upd.Detail, upd.Link)
	job.MarkEmitted(upd.Status)
}
