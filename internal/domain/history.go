package domain

import "time"

// StatusEntry is one element of an order's append-only status trail.
type StatusEntry struct {
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Link       string    `json:"link,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// HistoryRecord is the durable row for one order: the job fields plus the
// latest status, the full status trail, and execution side data. Rows are
// created at intake and never deleted by the core.
type HistoryRecord struct {
	OrderID        string         `json:"orderId"`
	OrderType      OrderType      `json:"orderType"`
	TokenIn        string         `json:"tokenIn"`
	TokenOut       string         `json:"tokenOut"`
	Amount         uint64         `json:"amount"`
	Status         Status         `json:"status"`
	StatusHistory  []StatusEntry  `json:"statusHistory"`
	Venue          string         `json:"venue,omitempty"`
	TxHash         string         `json:"txHash,omitempty"`
	ExecutedAmount string         `json:"executedAmount,omitempty"`
	QuoteResponse  *QuoteResponse `json:"quoteResponse,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	ExplorerLink   string         `json:"explorerLink,omitempty"`
	ReceivedAt     time.Time      `json:"receivedAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// StatusUpdate is the argument to HistoryStore.AppendStatus. Side fields are
// written only when non-empty.
type StatusUpdate struct {
	OrderID        string
	Status         Status
	Detail         string
	Link           string
	Venue          string
	TxHash         string
	ExecutedAmount string
	LastError      string
}

// HistoryListOpts controls keyset pagination over the history table. Cursor,
// when set, restricts results to rows with UpdatedAt strictly before it.
type HistoryListOpts struct {
	Limit  int
	Cursor *time.Time
}

// HistoryPage is one page of history rows in UpdatedAt-descending order.
// NextCursor is the UpdatedAt of the last row when a full page was returned,
// nil otherwise.
type HistoryPage struct {
	Records    []HistoryRecord
	NextCursor *time.Time
}
