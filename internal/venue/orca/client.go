// Package orca implements the domain.Venue capability against an Orca-style
// whirlpool API. Pricing still follows the constant-product curve over the
// pool's token vaults.
package orca

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
	// defaultFeeBps is the typical whirlpool trade fee tier.
	defaultFeeBps = 30

	defaultMaxPools = 3
)

// Config holds construction parameters for the Orca client.
type Config struct {
	BaseURL  string
	FeeBps   int
	MaxPools int
	Timeout  time.Duration
}

// Client talks to an Orca whirlpool listing and swap-build HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	feeBps     int
	maxPools   int
}

// New creates an Orca venue client.
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
	}
}

// Name identifies this venue in quotes and routing decisions.
func (c *Client) Name() string { return "orca" }

// whirlpool is one pool entry from GET /whirlpools. Vault balances are
// decimal strings.
type whirlpool struct {
	Address     string `json:"address"`
	TokenMintA  string `json:"tokenMintA"`
	TokenMintB  string `json:"tokenMintB"`
	TokenVaultA string `json:"tokenVaultA"`
	TokenVaultB string `json:"tokenVaultB"`
	FeeRateBps  int    `json:"feeRateBps"`
}

type whirlpoolList struct {
	Whirlpools []whirlpool `json:"whirlpools"`
}

// Quote prices the request against matching whirlpools, keeping the best of
// up to maxPools candidates.
func (c *Client) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	url := fmt.Sprintf("%s/whirlpools?mintA=%s&mintB=%s", c.baseURL, req.TokenIn, req.TokenOut)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("orca: build whirlpools request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("orca: fetch whirlpools: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("orca: read whirlpools response: %w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.QuoteResponse{}, fmt.Errorf("orca: whirlpools returned %d: %w", resp.StatusCode, domain.ErrTransport)
	}

	var list whirlpoolList
	if err := json.Unmarshal(body, &list); err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("orca: decode whirlpools response: %w: %v", domain.ErrTransport, err)
	}

	var (
		best     whirlpool
		bestOut  uint64
		bestIn   uint64
		bestROut uint64
		checked  int
	)
	for _, p := range list.Whirlpools {
		if checked >= c.maxPools {
			break
		}
		vaultIn, vaultOut, ok := vaultsFor(p, req.TokenIn, req.TokenOut)
		if !ok {
			continue
		}
		checked++
		fee := p.FeeRateBps
		if fee <= 0 {
			fee = c.feeBps
		}
		out := cpamm.EstimateOut(vaultIn, vaultOut, req.Amount, fee)
		if out > bestOut {
			best = p
			bestOut = out
			bestIn = vaultIn
			bestROut = vaultOut
		}
	}
	if bestOut == 0 {
		return domain.QuoteResponse{}, fmt.Errorf("orca: no usable whirlpool for %s -> %s: %w", req.TokenIn, req.TokenOut, domain.ErrNoPool)
	}

	fee := best.FeeRateBps
	if fee <= 0 {
		fee = c.feeBps
	}
	return domain.QuoteResponse{
		Venue:          c.Name(),
		EstimatedOut:   bestOut,
		MinOut:         domain.MinOutFor(bestOut, req.SlippageBps),
		PriceImpactBps: cpamm.PriceImpactBps(bestIn, bestROut, req.Amount, bestOut),
		FeeBps:         fee,
		PoolID:         best.Address,
		RouteMeta: map[string]string{
			"tokenMintA": best.TokenMintA,
			"tokenMintB": best.TokenMintB,
		},
		Request: req,
	}, nil
}

// vaultsFor resolves vault balances for the swap direction; false when the
// pair does not match the whirlpool in either orientation.
func vaultsFor(p whirlpool, tokenIn, tokenOut string) (uint64, uint64, bool) {
	a, errA := strconv.ParseUint(p.TokenVaultA, 10, 64)
	b, errB := strconv.ParseUint(p.TokenVaultB, 10, 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	switch {
	case tokenIn == p.TokenMintA && tokenOut == p.TokenMintB:
		return a, b, true
	case tokenIn == p.TokenMintB && tokenOut == p.TokenMintA:
		return b, a, true
	default:
		return 0, 0, false
	}
}

type swapBuildRequest struct {
	Whirlpool   string `json:"whirlpool"`
	Wallet      string `json:"wallet"`
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      string `json:"amount"`
	OtherMinOut string `json:"otherAmountThreshold"`
	WrapUnwrap  bool   `json:"wrapAndUnwrapSol"`
}

type swapBuildResponse struct {
	SwapTransaction string   `json:"swapTransaction"` // base64 unsigned tx message
	Signers         []string `json:"signers"`         // base58 ephemeral keypairs
	Message         string   `json:"message"`
	Code            string   `json:"code"`
}

// BuildSwap asks the venue to construct the swap transaction, embedding the
// quote's MinOut as the output threshold.
func (c *Client) BuildSwap(ctx context.Context, req domain.BuildRequest) (domain.BuiltTransaction, error) {
	payload, err := json.Marshal(swapBuildRequest{
		Whirlpool:   req.Quote.PoolID,
		Wallet:      req.SignerPub,
		InputMint:   req.Order.TokenIn,
		OutputMint:  req.Order.TokenOut,
		Amount:      strconv.FormatUint(req.Order.Amount, 10),
		OtherMinOut: strconv.FormatUint(req.Quote.MinOut, 10),
		WrapUnwrap:  true,
	})
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("orca: marshal build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap/build", bytes.NewReader(payload))
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("orca: build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("orca: post swap build: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("orca: read swap build response: %w: %v", domain.ErrTransport, err)
	}

	var out swapBuildResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("orca: decode swap build response: %w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK || out.Code != "" {
		return domain.BuiltTransaction{}, buildError(out, resp.StatusCode)
	}

	txBytes, err := base64.StdEncoding.DecodeString(out.SwapTransaction)
	if err != nil {
		return domain.BuiltTransaction{}, fmt.Errorf("orca: decode transaction: %w: %v", domain.ErrTransport, err)
	}

	extra := make([][]byte, 0, len(out.Signers))
	for _, s := range out.Signers {
		key, err := base58.Decode(s)
		if err != nil {
			return domain.BuiltTransaction{}, fmt.Errorf("orca: decode signer: %w: %v", domain.ErrTransport, err)
		}
		extra = append(extra, key)
	}

	return domain.BuiltTransaction{Transaction: txBytes, ExtraSigners: extra}, nil
}

func buildError(resp swapBuildResponse, status int) error {
	switch resp.Code {
	case "WHIRLPOOL_CHANGED":
		return fmt.Errorf("orca: %s: %w", resp.Message, domain.ErrPoolChanged)
	case "INVALID_PAIR":
		return fmt.Errorf("orca: %s: %w", resp.Message, domain.ErrInvalidDirection)
	case "INSUFFICIENT_FUNDS":
		return fmt.Errorf("orca: %s: %w", resp.Message, domain.ErrInsufficientBalance)
	}
	if resp.Message != "" {
		return fmt.Errorf("orca: swap build failed: %s: %w", resp.Message, domain.ErrTransport)
	}
	return fmt.Errorf("orca: swap build returned %d: %w", status, domain.ErrTransport)
}

// Compile-time interface check.
var _ domain.Venue = (*Client)(nil)
