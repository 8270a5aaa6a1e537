// Package facilitator implements the HTTP client for the remote x402
// facilitator service, which verifies signed payment authorizations and
// submits on-chain settlement on the server's behalf.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"time"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/retry"
)

// DefaultBaseURL is the production facilitator endpoint.
const DefaultBaseURL = "https://x402.org/facilitator"

// Default per-operation timeouts. Settlement waits for on-chain confirmation
// and needs the most headroom.
const (
	DefaultVerifyTimeout    = 30 * time.Second
	DefaultSettleTimeout    = 90 * time.Second
	DefaultSupportedTimeout = 10 * time.Second
)

// Config configures a facilitator Client. The zero value uses the production
// endpoint with default timeouts and no authentication.
type Config struct {
	// BaseURL overrides the facilitator endpoint.
	BaseURL string

	// APIKey, when set, is sent as an Authorization: Bearer header.
	APIKey string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client

	// VerifyTimeout, SettleTimeout, and SupportedTimeout bound the
	// respective calls. Zero values use the defaults.
	VerifyTimeout    time.Duration
	SettleTimeout    time.Duration
	SupportedTimeout time.Duration

	// RetryPolicy governs /supported lookups. Zero value uses retry.DefaultPolicy.
	RetryPolicy retry.Policy

	Logger *slog.Logger
}

// Client is an HTTP implementation of x402gate.Facilitator.
type Client struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	verifyTimeout    time.Duration
	settleTimeout    time.Duration
	supportedTimeout time.Duration
	retryPolicy      retry.Policy
	logger           *slog.Logger
}

var _ x402gate.Facilitator = (*Client)(nil)

// NewClient creates a facilitator client from cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:          cfg.BaseURL,
		apiKey:           cfg.APIKey,
		httpClient:       cfg.HTTPClient,
		verifyTimeout:    cfg.VerifyTimeout,
		settleTimeout:    cfg.SettleTimeout,
		supportedTimeout: cfg.SupportedTimeout,
		retryPolicy:      cfg.RetryPolicy,
		logger:           cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.verifyTimeout == 0 {
		c.verifyTimeout = DefaultVerifyTimeout
	}
	if c.settleTimeout == 0 {
		c.settleTimeout = DefaultSettleTimeout
	}
	if c.supportedTimeout == 0 {
		c.supportedTimeout = DefaultSupportedTimeout
	}
	if c.retryPolicy.MaxAttempts == 0 {
		c.retryPolicy = retry.DefaultPolicy
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

type verifyRequest struct {
	X402Version         int                          `json:"x402Version"`
	PaymentPayload      x402gate.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402gate.PaymentRequirements `json:"paymentRequirements"`
}

type settleRequest struct {
	X402Version         int                          `json:"x402Version"`
	PaymentPayload      x402gate.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402gate.PaymentRequirements `json:"paymentRequirements"`
	WaitUntil           x402gate.WaitUntil           `json:"waitUntil"`
}

// Verify checks a payment authorization without executing the transfer.
// Transport failures are returned as unsuccessful results rather than errors
// so the pipeline maps them to a verify-stage 402.
func (c *Client) Verify(ctx context.Context, payload x402gate.PaymentPayload, requirements x402gate.PaymentRequirements) (*x402gate.VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	req := verifyRequest{
		X402Version:         x402gate.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}

	var result x402gate.VerifyResult
	if err := c.postJSON(ctx, "/verify", req, &result); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("facilitator verify call failed", "error", err)
		return &x402gate.VerifyResult{
			Success:      false,
			Error:        x402gate.ErrFacilitatorUnavailable.Error(),
			ErrorMessage: err.Error(),
		}, nil
	}
	return &result, nil
}

// Settle executes a verified payment on-chain. Transport failures are
// returned as unsuccessful results so the pipeline maps them to a
// settle-stage 500.
func (c *Client) Settle(ctx context.Context, payload x402gate.PaymentPayload, requirements x402gate.PaymentRequirements, waitUntil x402gate.WaitUntil) (*x402gate.SettleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.settleTimeout)
	defer cancel()

	if waitUntil == "" {
		waitUntil = x402gate.WaitConfirmed
	}
	req := settleRequest{
		X402Version:         x402gate.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		WaitUntil:           waitUntil,
	}

	var result x402gate.SettleResult
	if err := c.postJSON(ctx, "/settle", req, &result); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("facilitator settle call failed", "error", err)
		return &x402gate.SettleResult{
			Success:      false,
			Error:        x402gate.ErrFacilitatorUnavailable.Error(),
			ErrorMessage: err.Error(),
		}, nil
	}
	return &result, nil
}

// Supported queries the facilitator's support matrix, retrying transient
// failures. A persistent network failure yields an empty kinds list so that
// server construction stays live.
func (c *Client) Supported(ctx context.Context, chainID *big.Int, tokenAddress string) (*x402gate.SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.supportedTimeout)
	defer cancel()

	query := url.Values{}
	if chainID != nil {
		query.Set("chainId", chainID.String())
	}
	if tokenAddress != "" {
		query.Set("tokenAddress", tokenAddress)
	}
	endpoint := "/supported"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	result, err := retry.Do(ctx, c.retryPolicy, retry.Transient, func() (*x402gate.SupportedResponse, error) {
		var response x402gate.SupportedResponse
		if err := c.getJSON(ctx, endpoint, &response); err != nil {
			return nil, err
		}
		return &response, nil
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		c.logger.Warn("facilitator supported lookup failed, treating as empty", "error", err)
		return &x402gate.SupportedResponse{Kinds: []x402gate.SupportedKind{}}, nil
	}
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Failure bodies still carry structured result fields when the
		// facilitator produced them. Anything else, like a gateway or auth
		// error page, surfaces as a status error.
		if isFacilitatorResult(body) && json.Unmarshal(body, out) == nil {
			return nil
		}
		return fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// isFacilitatorResult reports whether a failure body looks like a facilitator
// verify/settle/supported result rather than an arbitrary error document.
func isFacilitatorResult(body []byte) bool {
	var fields map[string]json.RawMessage
	if json.Unmarshal(body, &fields) != nil {
		return false
	}
	for _, key := range []string{"success", "kinds"} {
		if _, ok := fields[key]; ok {
			return true
		}
	}
	return false
}
