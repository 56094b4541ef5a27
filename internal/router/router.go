// Package router selects the best execution venue for an order by fanning a
// quote request out to every registered venue and keeping the highest
// estimated output.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
)

const (
	// DefaultQuoteTimeout bounds each individual venue quote call.
	DefaultQuoteTimeout = 5 * time.Second

	// DefaultSlippage is the fractional slippage applied when none is
	// configured.
	DefaultSlippage = 0.01
)

// Config holds router construction parameters.
type Config struct {
	// Slippage is fractional, e.g. 0.01 for 1%. Converted to basis points
	// as max(1, floor(Slippage*10000)).
	Slippage float64

	// QuoteTimeout is the per-venue deadline for one quote call.
	QuoteTimeout time.Duration
}

// Router fans quote requests out to its venues and picks a winner. It is
// stateless across calls and safe for concurrent use. Retries are the
// queue's job; the router never retries internally.
type Router struct {
	venues       []domain.Venue
	slippageBps  int
	quoteTimeout time.Duration
	logger       *slog.Logger
}

// New creates a Router over the given venues. Venue order is significant: it
// breaks ties between equal quotes.
func New(venues []domain.Venue, cfg Config, logger *slog.Logger) *Router {
	slippage := cfg.Slippage
	if slippage <= 0 {
		slippage = DefaultSlippage
	}
	bps := int(slippage * 10000)
	if bps < 1 {
		bps = 1
	}
	timeout := cfg.QuoteTimeout
	if timeout <= 0 {
		timeout = DefaultQuoteTimeout
	}
	return &Router{
		venues:       venues,
		slippageBps:  bps,
		quoteTimeout: timeout,
		logger:       logger.With(slog.String("component", "router")),
	}
}

// SlippageBps exposes the effective slippage tolerance in basis points.
func (r *Router) SlippageBps() int { return r.slippageBps }

// FindBestRoute queries every venue concurrently, admits quotes that complete
// within the per-venue deadline without error, and returns the plan for the
// highest estimated output along with the full routing decision. When no
// venue admits, the error is a *domain.NoQuotesError carrying per-venue
// reasons.
func (r *Router) FindBestRoute(ctx context.Context, job domain.OrderJob) (domain.RoutePlan, domain.RoutingDecision, error) {
	req := domain.QuoteRequest{
		TokenIn:     job.TokenIn,
		TokenOut:    job.TokenOut,
		Amount:      job.Amount,
		SlippageBps: r.slippageBps,
	}

	type outcome struct {
		quote domain.QuoteResponse
		err   error
	}
	outcomes := make([]outcome, len(r.venues))

	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v domain.Venue) {
			defer wg.Done()
			quoteCtx, cancel := context.WithTimeout(ctx, r.quoteTimeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				q, err := v.Quote(quoteCtx, req)
				done <- outcome{quote: q, err: err}
			}()

			select {
			case o := <-done:
				outcomes[i] = o
			case <-quoteCtx.Done():
				outcomes[i] = outcome{err: fmt.Errorf("router: quote from %s timed out after %s: %w", v.Name(), r.quoteTimeout, quoteCtx.Err())}
			}
		}(i, v)
	}
	wg.Wait()

	decision := domain.RoutingDecision{OrderID: job.OrderID}
	winnerIdx := -1
	reasons := make(map[string]string, len(r.venues))
	for i, v := range r.venues {
		o := outcomes[i]
		if o.err != nil {
			decision.Quotes = append(decision.Quotes, domain.VenueQuote{Venue: v.Name(), Reason: o.err.Error()})
			reasons[v.Name()] = o.err.Error()
			continue
		}
		q := o.quote
		decision.Quotes = append(decision.Quotes, domain.VenueQuote{Venue: v.Name(), Quote: &q})
		// Strictly-greater keeps the tie-break on registration order.
		if winnerIdx == -1 || q.EstimatedOut > outcomes[winnerIdx].quote.EstimatedOut {
			winnerIdx = i
		}
	}

	if winnerIdx == -1 {
		err := &domain.NoQuotesError{Reasons: reasons}
		r.logger.WarnContext(ctx, "no venue produced a quote",
			slog.String("order_id", job.OrderID),
			slog.String("token_in", job.TokenIn),
			slog.String("token_out", job.TokenOut),
			slog.Int("venues", len(r.venues)),
		)
		return domain.RoutePlan{}, decision, err
	}

	winner := r.venues[winnerIdx]
	decision.Winner = winner.Name()

	r.logger.InfoContext(ctx, "routing decision",
		slog.String("order_id", job.OrderID),
		slog.String("winner", winner.Name()),
		slog.Uint64("estimated_out", outcomes[winnerIdx].quote.EstimatedOut),
		slog.Uint64("min_out", outcomes[winnerIdx].quote.MinOut),
		slog.Int("quotes_seen", len(decision.Quotes)),
	)

	return domain.RoutePlan{Winner: winner, Quote: outcomes[winnerIdx].quote}, decision, nil
}

// BuildTransaction constructs the swap transaction on the plan's winning
// venue. Kept as a free function so the plan stays a plain two-field record
// with no captured state. Callers invoke it at most once per plan.
func BuildTransaction(ctx context.Context, plan domain.RoutePlan, job domain.OrderJob, signerPub string) (domain.BuiltTransaction, error) {
	return plan.Winner.BuildSwap(ctx, domain.BuildRequest{
		Order:     job,
		Quote:     plan.Quote,
		SignerPub: signerPub,
	})
}
