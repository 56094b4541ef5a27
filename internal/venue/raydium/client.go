// Package raydium implements the domain.Venue capability against a
// Raydium-style constant-product pool API.
package raydium

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"github.com/calebwray/swapflow/internal/domain"
	"github.com/calebwray/swapflow/internal/venue/cpamm"
)

const (
	// defaultFeeBps is Raydium's standard AMM trade fee.
	defaultFeeBps = 25

	// defaultMaxPools bounds how many matching pools a single quote
	// evaluates.
	defaultMaxPools = 3

	// maxQuoteAge is the oldest pool snapshot a quote may be priced from.
	maxQuoteAge = 30 * time.Second
)

// Config holds construction parameters for the Raydium client.
type Config struct {
	BaseURL  string
	FeeBps   int
	MaxPools int
	Timeout  time.Duration
}

// Client talks to a Raydium pool-info and transaction-build HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	feeBps     int
	maxPools   int
	now        func() time.Time
}

// New creates a Raydium venue client.
func New(cfg Config) *Client {
	feeBps := cfg.FeeBps
	if feeBps <= 0 {
		feeBps = defaultFeeBps
	}
	maxPools := cfg.MaxPools
	if maxPools <= 0 {
		maxPools = defaultMaxPools
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		feeBps:     feeBps,
		maxPools:   maxPools,
		now:        time.Now,
	}
}

// Name identifies this venue in quotes and routing decisions.
func (c *Client) Name() string { return "raydium" }

// poolInfo is one pool entry from GET /pools. Reserves are decimal strings
// because they can exceed JSON's safe integer range.
type poolInfo struct {
	ID           string `json:"id"`
	BaseMint     string `json:"baseMint"`
	QuoteMint    string `json:"quoteMint"`
	BaseReserve  string `json:"baseReserve"`
	QuoteReserve string `json:"quoteReserve"`
	FeeBps       int    `json:"feeBps"`
	AsOf         int64  `json:"asOf"` // unix ms of the reserve snapshot
}

type poolsResponse struct {
	Pools []poolInfo `json:"pools"`
}

// Quote prices the request against current pool reserves. Up to maxPools
// matching pools are evaluated and the highest estimated output wins.
func (c *Client) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	url := fmt.Sprintf("%s/pools?baseMint=%s&quoteMint=%s", c.baseURL, req.TokenIn, req.TokenOut)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("raydium: build pools request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("raydium: fetch pools: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("raydium: read pools response: %w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.QuoteResponse{}, fmt.Errorf("raydium: pools returned %d: %w", resp.StatusCode, domain.ErrTransport)
	}

	var pools poolsResponse
	if err := json.Unmarshal(body, &pools); err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("raydium: decode pools response: %w: %v", domain.ErrTransport, err)
	}

	best, bestOut, err := c.bestPool(pools.Pools, req)
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	reserveIn, reserveOut, _ := reservesFor(best, req.TokenIn, req.TokenOut)
	return domain.QuoteResponse{
		Venue:          c.Name(),
		EstimatedOut:   bestOut,
		MinOut:         domain.MinOutFor(bestOut, req.SlippageBps),
		PriceImpactBps: cpamm.PriceImpactBps(reserveIn, reserveOut, req.Amount, bestOut),
		FeeBps:         poolFee(best, c.feeBps),
		PoolID:         best.ID,
		RouteMeta: map[string]string{
			"baseMint":  best.BaseMint,
			"quoteMint": best.QuoteMint,
		},
		Request: req,
	}, nil
}

// bestPool evaluates up to maxPools direction-matching pools and returns the
// one producing the highest output.
func (c *Client) bestPool(pools []poolInfo, req domain.QuoteRequest) (poolInfo, uint64, error) {
	var (
		best    poolInfo
		bestOut uint64
		checked int
	)
	for _, p := range pools {
		if checked >= c.maxPools {
			break
		}
		reserveIn, reserveOut, ok := reservesFor(p, req.TokenIn, req.TokenOut)
		if !ok {
			continue
		}
		checked++
		if p.AsOf > 0 {
			age := c.now().Sub(time.UnixMilli(p.AsOf))
			if age > maxQuoteAge {
				return poolInfo{}, 0, fmt.Errorf("raydium: pool %s snapshot is %s old: %w", p.ID, age.Round(time.Second), domain.ErrStaleData)
			}
		}
		out := cpamm.EstimateOut(reserveIn, reserveOut, req.Amount, poolFee(p, c.feeBps))
		if out > bestOut {
			best = p
			bestOut = out
		}
	}
	if bestOut == 0 {
		return poolInfo{}, 0, fmt.Errorf("raydium: no usable pool for %s -> %s: %w", req.TokenIn, req.TokenOut, domain.ErrNoPool)
	}
	return best, bestOut, nil
}

// reservesFor resolves the in/out reserves for the requested direction. The
// bool is false when the pair does not match the pool in either orientation.
func reservesFor(p poolInfo, tokenIn, tokenOut string) (uint64, uint64, bool) {
	base, errB := strconv.ParseUint(p.BaseReserve, 10, 64)
	quote, errQ := strconv.ParseUint(p.QuoteReserve, 10, 64)
	if errB != nil || errQ != nil {
		return 0, 0, false
	}
	switch {
	case tokenIn == p.BaseMint && tokenOut == p.QuoteMint:
		return base, quote, true
	case tokenIn == p.QuoteMint && tokenOut == p.BaseMint:
		return quote, base, true
	default:
		return 0, 0, false
	}
}

func poolFee(p poolInfo, fallback int) int {
	if p.FeeBps > 0 {
		return p.FeeBps
	}
	return fallback
}

// buildSwapRequest is the POST /transaction/swap payload. minAmountOut is the
// quote's MinOut, passed through verbatim.
type buildSwapRequest struct {
	PoolID       string `json:"poolId"`
	Owner        string `json:"owner"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	WrapSol      bool   `json:"wrapSol"`
}

type buildSwapResponse struct {
	Transaction  string   `json:"transaction"`  // base64 unsigned tx message
	ExtraSigners []string `json:"extraSigners"` // base58 ephemeral keypairs
	Error        string   `json:"error"`
	Code         string   `json:"code"`
}

// BuildSwap asks the venue to construct the swap transaction for the winning
// quote. The only permitted side effect upstream is the idempotent creation
// of a wrapped-SOL funding account when tokenIn requires it.
func (c *Client) BuildSwap(ctx context.Context, req domain.BuildRequest) (domain.BuiltTransaction, error) {
	payload, err := json.Marshal(buildSwapRequest{
		PoolID:       req.Quote.PoolID,
		Owner:        req.SignerPub,
		TokenIn:      req.Order.TokenIn,
		TokenOut:     req.Order.TokenOut,
		AmountIn:     strconv.FormatUint(req.Order.Amount, 10),
		MinAmountOut: strconv.FormatUint(req.Quote.MinOut, 10),
		WrapSol:      true,
	})
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("raydium: marshal build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/swap", bytes.NewReader(payload))
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("raydium: build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("raydium: post swap build: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("raydium: read swap build response: %w: %v", domain.ErrTransport, err)
	}

	var out buildSwapResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("raydium: decode swap build response: %w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return domain.BuiltTransaction{}, buildError(out, resp.StatusCode)
	}

	txBytes, err := base64.StdEncoding.DecodeString(out.Transaction)
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("raydium: decode transaction: %w: %v", domain.ErrTransport, err)
	}

	extra := make([][]byte, 0, len(out.ExtraSigners))
	for _, s := range out.ExtraSigners {
		key, err := base58.Decode(s)
		if err != nil {
			return domain.BuiltTransaction{}, fmt.Errorf("raydium: decode extra signer: %w: %v", domain.ErrTransport, err)
		}
		extra = append(extra, key)
	}

	return domain.BuiltTransaction{Transaction: txBytes, ExtraSigners: extra}, nil
}

// buildError maps the venue's error codes onto the domain error kinds.
func buildError(resp buildSwapResponse, status int) error {
	switch resp.Code {
	case "POOL_CHANGED":
		return fmt.Errorf("raydium: %s: %w", resp.Error, domain.ErrPoolChanged)
	case "INVALID_DIRECTION":
		return fmt.Errorf("raydium: %s: %w", resp.Error, domain.ErrInvalidDirection)
	case "INSUFFICIENT_BALANCE":
		return fmt.Errorf("raydium: %s: %w", resp.Error, domain.ErrInsufficientBalance)
	}
	if resp.Error != "" {
		return fmt.Errorf("raydium: swap build failed: %s: %w", resp.Error, domain.ErrTransport)
	}
	return fmt.Errorf("raydium: swap build returned %d: %w", status, domain.ErrTransport)
}

// Compile-time interface check.
var _ domain.Venue = (*Client)(nil)
