// Package wallet is the HTTP collaborator client for the external agent
// wallet service used by the task engine for agent-creator budget
// deduction and earnings distribution (spec §4.5). Grounded on
// original_source/acn/services/wallet_client.py; transport idiom grounded
// on _seed/gasbank_client/client/client.go (one *http.Client per base URL,
// typed request/response structs, HTTP-status-based error handling).
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/r3e-network/acn/internal/money"
)

const defaultTimeout = 10 * time.Second

// Client talks to the wallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("wallet client: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: cfg.BaseURL, httpClient: httpClient}, nil
}

// Balance is an agent wallet's current balance.
type Balance struct {
	AgentID   string `json:"agent_id"`
	Credits   string `json:"credits"`
	Earnings  string `json:"earnings"`
	Available string `json:"available"`
}

// GetBalance retrieves an agent's wallet balance.
func (c *Client) GetBalance(ctx context.Context, agentID string) (*Balance, error) {
	var result Balance
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/agent-wallets/%s", agentID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// spendRequest deducts from an agent's wallet for creating a paid task
// (spec §4.5 "deducts agent wallet balance for agent creators").
type spendRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// Spend deducts amount from agentID's wallet.
func (c *Client) Spend(ctx context.Context, agentID string, amount money.Amount, description string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/agent-wallets/%s/spend", agentID),
		spendRequest{Amount: amount.String(), Description: description}, nil)
}

// Receive credits amount back to an agent's wallet, e.g. on task
// cancellation refund (spec §4.5 cancel).
func (c *Client) Receive(ctx context.Context, agentID string, amount money.Amount, description string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/agent-wallets/%s/receive", agentID),
		spendRequest{Amount: amount.String(), Description: description}, nil)
}

type earningsRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// EarningsResult is the owner/agent split returned by AddEarnings.
type EarningsResult struct {
	AgentAmount string `json:"agent_amount"`
	OwnerAmount string `json:"owner_amount"`
}

// AddEarnings credits agentID's wallet with amount, pre-split between the
// agent and its owner by the wallet service's configured owner share
// (spec §4.5 "_distribute_reward").
func (c *Client) AddEarnings(ctx context.Context, agentID string, amount money.Amount, description string) (*EarningsResult, error) {
	if amount.IsZero() {
		return &EarningsResult{AgentAmount: "0", OwnerAmount: "0"}, nil
	}
	var result EarningsResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/agent-wallets/%s/earnings", agentID),
		earningsRequest{Amount: amount.String(), Description: description}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("wallet client: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("wallet client: create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet client: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("wallet client: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Detail != "" {
			return fmt.Errorf("wallet client: request failed (HTTP %d): %s", resp.StatusCode, errResp.Detail)
		}
		return fmt.Errorf("wallet client: request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("wallet client: unmarshal response: %w", err)
		}
	}
	return nil
}
