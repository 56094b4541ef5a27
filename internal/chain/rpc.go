// Package chain submits signed transactions to a Solana JSON-RPC node and
// waits for them to reach the configured commitment level.
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/calebwray/swapflow/internal/crypto"
	"github.com/calebwray/swapflow/internal/domain"
)

const (
	// DefaultCommitment is the confirmation level awaited when none is
	// configured.
	DefaultCommitment = "confirmed"

	// DefaultConfirmTimeout bounds the post-submit confirmation wait.
	DefaultConfirmTimeout = 60 * time.Second

	// DefaultPollInterval is the pause between signature status polls.
	DefaultPollInterval = 2 * time.Second

	defaultExplorerBase = "https://explorer.solana.com"
)

// Signer produces transaction signatures. *crypto.Signer satisfies it.
type Signer interface {
	PublicKey() string
	Sign(message []byte) []byte
}

// Config holds construction parameters for the RPC client.
type Config struct {
	RPCURL         string
	Commitment     string // processed | confirmed | finalized
	Cluster        string // explorer cluster tag; empty for mainnet
	ExplorerBase   string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	HTTPTimeout    time.Duration
}

// Client signs transaction messages, submits them over JSON-RPC, and polls
// signature status until the commitment level is reached.
type Client struct {
	rpcURL         string
	commitment     string
	cluster        string
	explorerBase   string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	httpClient     *http.Client
	signer         Signer
	logger         *slog.Logger
	nextID         atomic.Uint64
}

// New creates an RPC client around signer.
func New(cfg Config, signer Signer, logger *slog.Logger) *Client {
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = DefaultCommitment
	}
	explorerBase := cfg.ExplorerBase
	if explorerBase == "" {
		explorerBase = defaultExplorerBase
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	httpTimeout := cfg.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = 15 * time.Second
	}
	return &Client{
		rpcURL:         cfg.RPCURL,
		commitment:     commitment,
		cluster:        cfg.Cluster,
		explorerBase:   explorerBase,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		httpClient:     &http.Client{Timeout: httpTimeout},
		signer:         signer,
		logger:         logger.With(slog.String("component", "chain")),
	}
}

// SubmitAndConfirm signs the built transaction message, submits it, invokes
// onSubmitted once with the assigned signature, and blocks until the
// transaction reaches the configured commitment or the confirmation window
// expires. The signature is returned even on confirmation failure so callers
// can surface it.
func (c *Client) SubmitAndConfirm(ctx context.Context, tx domain.BuiltTransaction, onSubmitted func(signature string)) (string, error) {
	wire, err := c.serialize(tx)
	if err != nil {
		return "", err
	}

	sig, err := c.sendTransaction(ctx, wire)
	if err != nil {
		return "", err
	}
	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("signature", sig),
		slog.String("commitment", c.commitment),
	)
	if onSubmitted != nil {
		onSubmitted(sig)
	}

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// ExplorerLink resolves a signature to a block-explorer URL.
func (c *Client) ExplorerLink(signature string) string {
	if c.cluster != "" {
		return fmt.Sprintf("%s/tx/%s?cluster=%s", c.explorerBase, signature, c.cluster)
	}
	return fmt.Sprintf("%s/tx/%s", c.explorerBase, signature)
}

// serialize assembles the wire transaction: a shortvec-encoded signature
// count, the signatures in signer order (fee payer first), then the message
// bytes exactly as the venue built them.
func (c *Client) serialize(tx domain.BuiltTransaction) ([]byte, error) {
	if len(tx.Transaction) == 0 {
		return nil, fmt.Errorf("chain: empty transaction message: %w", domain.ErrChainSubmit)
	}

	sigs := make([][]byte, 0, 1+len(tx.ExtraSigners))
	sigs = append(sigs, c.signer.Sign(tx.Transaction))
	for i, keypair := range tx.ExtraSigners {
		extra, err := extraSigner(keypair)
		if err != nil {
			return nil, fmt.Errorf("chain: extra signer %d: %w", i, err)
		}
		sigs = append(sigs, extra.Sign(tx.Transaction))
	}

	var buf bytes.Buffer
	buf.Write(encodeShortvecLen(len(sigs)))
	for _, sig := range sigs {
		buf.Write(sig)
	}
	buf.Write(tx.Transaction)
	return buf.Bytes(), nil
}

// extraSigner wraps an ephemeral keypair delivered alongside a built
// transaction.
func extraSigner(keypair []byte) (Signer, error) {
	return crypto.NewSignerFromBytes(keypair)
}

// encodeShortvecLen encodes n in the compact-u16 format transaction headers
// use for array lengths.
func encodeShortvecLen(n int) []byte {
	var out []byte
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and unmarshals the result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("chain: marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chain: build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("chain: %s: %w: %v", method, domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("chain: read %s response: %w: %v", method, domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chain: %s returned %d: %w", method, resp.StatusCode, domain.ErrTransport)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("chain: decode %s response: %w: %v", method, domain.ErrTransport, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("chain: %s failed (%d): %s: %w", method, rpcResp.Error.Code, rpcResp.Error.Message, domain.ErrChainSubmit)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("chain: decode %s result: %w", method, err)
		}
	}
	return nil
}

// sendTransaction submits the wire bytes and returns the assigned signature.
func (c *Client) sendTransaction(ctx context.Context, wire []byte) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(wire),
		map[string]any{
			"encoding":            "base64",
			"preflightCommitment": c.commitment,
		},
	}
	var sig string
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// signatureStatus is one entry of the getSignatureStatuses result.
type signatureStatus struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

type signatureStatusResult struct {
	Value []*signatureStatus `json:"value"`
}

// awaitConfirmation polls the signature status until the commitment level is
// reached, the transaction errors on chain, or the window expires.
func (c *Client) awaitConfirmation(ctx context.Context, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var result signatureStatusResult
		params := []any{[]string{sig}, map[string]any{"searchTransactionHistory": true}}
		if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
			// Transient RPC failures keep polling; the deadline is the
			// backstop.
			c.logger.WarnContext(ctx, "signature status poll failed",
				slog.String("signature", sig),
				slog.String("error", err.Error()),
			)
		} else if len(result.Value) > 0 && result.Value[0] != nil {
			status := result.Value[0]
			if len(status.Err) > 0 && string(status.Err) != "null" {
				return fmt.Errorf("chain: transaction %s failed on chain: %s: %w", sig, status.Err, domain.ErrChainSubmit)
			}
			if commitmentReached(status.ConfirmationStatus, c.commitment) {
				c.logger.InfoContext(ctx, "transaction confirmed",
					slog.String("signature", sig),
					slog.String("status", status.ConfirmationStatus),
				)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: confirmation of %s timed out after %s: %w", sig, c.confirmTimeout, domain.ErrChainSubmit)
		case <-ticker.C:
		}
	}
}

// commitmentReached reports whether got satisfies want on the
// processed < confirmed < finalized ladder.
func commitmentReached(got, want string) bool {
	rank := map[string]int{"processed": 0, "confirmed": 1, "finalized": 2}
	g, okG := rank[got]
	w, okW := rank[want]
	return okG && okW && g >= w
}

// Compile-time interface check.
var _ domain.ChainSubmitter = (*Client)(nil)
