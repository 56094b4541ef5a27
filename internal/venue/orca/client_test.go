package orca

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/calebwray/swapflow/internal/domain"
)

// whirlpoolStub serves scripted /whirlpools and /swap/build responses and
// records the last build payload.
type whirlpoolStub struct {
	pools     []whirlpool
	buildResp swapBuildResponse
	buildCode int
	lastBuild swapBuildRequest
}

func (s *whirlpoolStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /whirlpools", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(whirlpoolList{Whirlpools: s.pools})
	})
	mux.HandleFunc("POST /swap/build", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&s.lastBuild)
		if s.buildCode != 0 {
			w.WriteHeader(s.buildCode)
		}
		_ = json.NewEncoder(w).Encode(s.buildResp)
	})
	return mux
}

func pool(addr, mintA, mintB string, vaultA, vaultB uint64, feeBps int) whirlpool {
	return whirlpool{
		Address:     addr,
		TokenMintA:  mintA,
		TokenMintB:  mintB,
		TokenVaultA: fmt.Sprintf("%d", vaultA),
		TokenVaultB: fmt.Sprintf("%d", vaultB),
		FeeRateBps:  feeBps,
	}
}

func newTestClient(t *testing.T, stub *whirlpoolStub, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return New(cfg)
}

func TestQuoteKeepsBestWhirlpool(t *testing.T) {
	stub := &whirlpoolStub{pools: []whirlpool{
		pool("shallow", "MINTA", "MINTB", 1_000_000, 1_000_000, 0),
		pool("deep", "MINTA", "MINTB", 100_000_000, 100_000_000, 0),
	}}
	c := newTestClient(t, stub, Config{})

	quote, err := c.Quote(context.Background(), domain.QuoteRequest{
		TokenIn:     "MINTA",
		TokenOut:    "MINTB",
		Amount:      10_000,
		SlippageBps: 100,
	})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if quote.PoolID != "deep" {
		t.Fatalf("pool = %s, want deep", quote.PoolID)
	}
	if quote.Venue != "orca" {
		t.Fatalf("venue = %s", quote.Venue)
	}
	if quote.MinOut != domain.MinOutFor(quote.EstimatedOut, 100) {
		t.Fatalf("MinOut = %d, want slippage floor of %d", quote.MinOut, quote.EstimatedOut)
	}
}

func TestQuoteUsesPerPoolFeeTier(t *testing.T) {
	// Identical reserves; the lower fee tier must win.
	stub := &whirlpoolStub{pools: []whirlpool{
		pool("expensive", "MINTA", "MINTB", 10_000_000, 10_000_000, 100),
		pool("cheap", "MINTA", "MINTB", 10_000_000, 10_000_000, 5),
	}}
	c := newTestClient(t, stub, Config{})

	quote, err := c.Quote(context.Background(), domain.QuoteRequest{
		TokenIn: "MINTA", TokenOut: "MINTB", Amount: 100_000, SlippageBps: 1,
	})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if quote.PoolID != "cheap" || quote.FeeBps != 5 {
		t.Fatalf("pool = %s fee = %d, want cheap/5", quote.PoolID, quote.FeeBps)
	}
}

func TestQuoteReversedOrientationUsesOppositeVaults(t *testing.T) {
	// MINTB listed as mint A; swapping MINTA -> MINTB must read vault B as the
	// input side.
	stub := &whirlpoolStub{pools: []whirlpool{
		pool("p1", "MINTB", "MINTA", 50_000_000, 100_000_000, 0),
	}}
	c := newTestClient(t, stub, Config{})

	quote, err := c.Quote(context.Background(), domain.QuoteRequest{
		TokenIn: "MINTA", TokenOut: "MINTB", Amount: 1_000_000, SlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if quote.EstimatedOut == 0 || quote.EstimatedOut >= 1_000_000 {
		t.Fatalf("EstimatedOut = %d, implausible for 2:1 reserves", quote.EstimatedOut)
	}
}

func TestQuoteNoUsableWhirlpool(t *testing.T) {
	stub := &whirlpoolStub{pools: []whirlpool{
		pool("p1", "OTHER1", "OTHER2", 1_000, 1_000, 0),
	}}
	c := newTestClient(t, stub, Config{})

	_, err := c.Quote(context.Background(), domain.QuoteRequest{
		TokenIn: "MINTA", TokenOut: "MINTB", Amount: 100, SlippageBps: 1,
	})
	if !errors.Is(err, domain.ErrNoPool) {
		t.Fatalf("error = %v, want ErrNoPool", err)
	}
}

func TestBuildSwapSendsThresholdVerbatim(t *testing.T) {
	tx := []byte("unsigned-whirlpool-swap")
	signer := make([]byte, 64)
	stub := &whirlpoolStub{buildResp: swapBuildResponse{
		SwapTransaction: base64.StdEncoding.EncodeToString(tx),
		Signers:         []string{base58.Encode(signer)},
	}}
	c := newTestClient(t, stub, Config{})

	built, err := c.BuildSwap(context.Background(), domain.BuildRequest{
		Order: domain.OrderJob{
			OrderID:      "ORDER1234567",
			OrderRequest: domain.OrderRequest{TokenIn: "MINTA", TokenOut: "MINTB", Amount: 5_000},
		},
		Quote:     domain.QuoteResponse{PoolID: "whirl1", MinOut: 4_950},
		SignerPub: "WALLETPUBKEY",
	})
	if err != nil {
		t.Fatalf("BuildSwap() error = %v", err)
	}
	if string(built.Transaction) != string(tx) {
		t.Fatalf("transaction = %q", built.Transaction)
	}
	if len(built.ExtraSigners) != 1 || len(built.ExtraSigners[0]) != 64 {
		t.Fatalf("extra signers = %v", built.ExtraSigners)
	}

	if stub.lastBuild.OtherMinOut != "4950" {
		t.Fatalf("otherAmountThreshold = %s, want 4950", stub.lastBuild.OtherMinOut)
	}
	if stub.lastBuild.Whirlpool != "whirl1" || stub.lastBuild.Wallet != "WALLETPUBKEY" || stub.lastBuild.Amount != "5000" {
		t.Fatalf("build payload = %+v", stub.lastBuild)
	}
}

func TestBuildSwapMapsErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"INVALID_PAIR", domain.ErrInvalidDirection},
		{"WHIRLPOOL_CHANGED", domain.ErrPoolChanged},
		{"INSUFFICIENT_FUNDS", domain.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		stub := &whirlpoolStub{
			buildResp: swapBuildResponse{Message: "nope", Code: tc.code},
			buildCode: http.StatusUnprocessableEntity,
		}
		c := newTestClient(t, stub, Config{})

		_, err := c.BuildSwap(context.Background(), domain.BuildRequest{
			Quote: domain.QuoteResponse{PoolID: "whirl1"},
		})
		if !errors.Is(err, tc.want) {
			t.Errorf("code %s: error = %v, want %v", tc.code, err, tc.want)
		}
	}
}
