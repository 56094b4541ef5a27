// Package domain holds the core types of the swap execution pipeline: orders,
// lifecycle statuses, quotes, route plans, and history records, plus the
// interfaces that external collaborators (stores, queues, venues) implement.
package domain

import (
	"fmt"
	"time"
)

// OrderType is the execution policy requested by the client. Only immediate
// market execution is supported today; the tag leaves room for limit or
// conditional types later.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// Status is a lifecycle state of an order. The happy path advances through
// pending → queued → routing → building → submitted → confirmed; failed is
// terminal and reachable from any non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// statusRank gives each status its position in the happy-path order. Used by
// tests and by HistoryRecord sanity checks; failed sorts last.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusQueued:    1,
	StatusRouting:   2,
	StatusBuilding:  3,
	StatusSubmitted: 4,
	StatusConfirmed: 5,
	StatusFailed:    6,
}

// Rank returns the ordinal position of s in the lifecycle, or -1 for an
// unknown status.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// StatusMessage is one frame delivered to a subscriber over the per-order
// update channel.
type StatusMessage struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Issue describes a single validation failure on an intake payload.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// OrderRequest is the immutable client-submitted swap intent. Amount is an
// integer in the smallest on-chain unit of TokenIn.
type OrderRequest struct {
	TokenIn   string    `json:"tokenIn"`
	TokenOut  string    `json:"tokenOut"`
	Amount    uint64    `json:"amount"`
	OrderType OrderType `json:"orderType"`
}

// Validate checks the request against the market-order schema and returns one
// issue per violated rule. An empty slice means the request is acceptable.
func (r OrderRequest) Validate() []Issue {
	var issues []Issue
	if r.TokenIn == "" {
		issues = append(issues, Issue{Field: "tokenIn", Message: "tokenIn must be a non-empty string"})
	}
	if r.TokenOut == "" {
		issues = append(issues, Issue{Field: "tokenOut", Message: "tokenOut must be a non-empty string"})
	}
	if r.TokenIn != "" && r.TokenIn == r.TokenOut {
		issues = append(issues, Issue{Field: "tokenOut", Message: "tokenIn and tokenOut must differ"})
	}
	if r.Amount == 0 {
		issues = append(issues, Issue{Field: "amount", Message: "amount must be a positive integer"})
	}
	if r.OrderType != OrderTypeMarket {
		issues = append(issues, Issue{Field: "orderType", Message: fmt.Sprintf("orderType must be %q", OrderTypeMarket)})
	}
	return issues
}

// OrderJob is the mutable record that travels through the queue and is owned
// by the worker during processing. EmittedStatuses keeps status emission
// idempotent across queue redeliveries of the same job.
type OrderJob struct {
	OrderRequest

	OrderID         string          `json:"orderId"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	EmittedStatuses map[Status]bool `json:"emittedStatuses,omitempty"`
	LastTxSignature string          `json:"lastTxSignature,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
}

// Emitted reports whether status s has already been broadcast for this job.
func (j *OrderJob) Emitted(s Status) bool {
	return j.EmittedStatuses[s]
}

// MarkEmitted records that status s has been broadcast for this job.
func (j *OrderJob) MarkEmitted(s Status) {
	if j.EmittedStatuses == nil {
		j.EmittedStatuses = make(map[Status]bool, 8)
	}
	j.EmittedStatuses[s] = true
}
