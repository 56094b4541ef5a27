package domain

import (
	"context"
	"time"
)

// Venue is the capability set every DEX backend exposes. Implementations must
// be safe for concurrent Quote calls. BuildSwap must embed Quote.MinOut as
// the on-chain minimum-output floor and must not re-apply slippage.
type Venue interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error)
	BuildSwap(ctx context.Context, req BuildRequest) (BuiltTransaction, error)
}

// HistoryStore is the durable order log.
type HistoryStore interface {
	// Insert creates the row for a new order; idempotent on OrderID.
	Insert(ctx context.Context, rec HistoryRecord) error
	// AppendStatus atomically updates the latest status, appends one trail
	// entry, and writes any non-empty side fields. A missing row is logged
	// and swallowed so a worker retry never crashes on it.
	AppendStatus(ctx context.Context, upd StatusUpdate) error
	// RecordRoutingDecision stores the winning venue and quote on the row
	// without touching the status trail.
	RecordRoutingDecision(ctx context.Context, orderID string, quote QuoteResponse) error
	List(ctx context.Context, opts HistoryListOpts) (HistoryPage, error)
	GetByID(ctx context.Context, orderID string) (HistoryRecord, error)
}

// Enqueuer is the intake-side face of the reliable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job OrderJob) error
}

// StatusSink receives lifecycle status emissions for fan-out to subscribers.
type StatusSink interface {
	SendStatus(orderID string, status Status, detail, link string)
}

// RateLimiter gates route initiations. Allow counts the request against the
// limit for key and reports whether it fit inside the current window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ChainSubmitter signs, submits, and confirms a built transaction.
// onSubmitted fires once, as soon as the chain has assigned a signature and
// before confirmation is awaited.
type ChainSubmitter interface {
	SubmitAndConfirm(ctx context.Context, tx BuiltTransaction, onSubmitted func(signature string)) (string, error)
	// ExplorerLink resolves a signature to a human-readable explorer URL.
	ExplorerLink(signature string) string
}
