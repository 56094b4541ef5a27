package domain

import "math/big"

// QuoteRequest is the normalized pricing request the router sends to every
// registered venue. SlippageBps is in hundredths of a percent, [1, 10000].
type QuoteRequest struct {
	TokenIn     string `json:"tokenIn"`
	TokenOut    string `json:"tokenOut"`
	Amount      uint64 `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
}

// QuoteResponse is a venue's priced offer for a QuoteRequest. MinOut is the
// post-slippage floor the venue must embed verbatim into the built swap.
type QuoteResponse struct {
	Venue          string            `json:"venue"`
	EstimatedOut   uint64            `json:"estimatedOut"`
	MinOut         uint64            `json:"minOut"`
	PriceImpactBps int               `json:"priceImpactBps"`
	FeeBps         int               `json:"feeBps"`
	PoolID         string            `json:"poolId"`
	RouteMeta      map[string]string `json:"routeMeta,omitempty"`
	Request        QuoteRequest      `json:"request"`
}

// MinOutFor computes floor(estimatedOut * (10000 - slippageBps) / 10000).
// The intermediate product can exceed 64 bits, so the math runs in big.Int.
func MinOutFor(estimatedOut uint64, slippageBps int) uint64 {
	if slippageBps < 0 {
		slippageBps = 0
	}
	if slippageBps > 10000 {
		slippageBps = 10000
	}
	n := new(big.Int).SetUint64(estimatedOut)
	n.Mul(n, big.NewInt(int64(10000-slippageBps)))
	n.Div(n, big.NewInt(10000))
	return n.Uint64()
}

// BuildRequest carries everything a venue needs to construct the swap
// transaction for the winning quote. SignerPub is the base58 public key of
// the funding wallet.
type BuildRequest struct {
	Order     OrderJob
	Quote     QuoteResponse
	SignerPub string
}

// BuiltTransaction is the venue's output, opaque to the core. Transaction is
// the serialized unsigned transaction message; ExtraSigners holds any
// ephemeral keypairs that must co-sign (for example a temporary wrapped-SOL
// account).
type BuiltTransaction struct {
	Transaction  []byte
	ExtraSigners [][]byte
}

// RoutePlan is the router's output: the winning venue handle and its quote.
// Transaction construction is a separate free function so the plan carries no
// hidden captured state.
type RoutePlan struct {
	Winner Venue
	Quote  QuoteResponse
}

// VenueQuote is one venue's outcome inside a routing decision; exactly one of
// Quote or Reason is set.
type VenueQuote struct {
	Venue  string         `json:"venue"`
	Quote  *QuoteResponse `json:"quote,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// RoutingDecision records every quote the router saw for an order, including
// failures, plus the chosen winner.
type RoutingDecision struct {
	OrderID string       `json:"orderId"`
	Quotes  []VenueQuote `json:"quotes"`
	Winner  string       `json:"winner"`
}
