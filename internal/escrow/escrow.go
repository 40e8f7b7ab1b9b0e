// Package escrow is the HTTP collaborator client for the external escrow
// service that holds a task's locked budget until it is released to
// completers or refunded to the creator (spec §4.5). It exposes both the
// v1 single-assignee lock/release/refund family and the v2 multi-participant
// lifecycle (lock_v2/accept_v2/submit_v2/release_partial/get_by_task).
// Grounded on original_source/acn/services/escrow_client.go; transport idiom
// grounded on _seed/gasbank_client/client/client.go.
package escrow

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

const defaultTimeout = 30 * time.Second

// Client talks to the escrow service.
type Client struct {
	baseURL        string
	internalToken  string
	httpClient     *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	InternalToken string
	HTTPClient    *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("escrow client: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: cfg.BaseURL, internalToken: cfg.InternalToken, httpClient: httpClient}, nil
}

// Detail is the v2 escrow lifecycle result.
type Detail struct {
	EscrowID        string `json:"escrow_id,omitempty"`
	TaskID          string `json:"task_id,omitempty"`
	Status          string `json:"status,omitempty"`
	TotalAmount     string `json:"total_amount,omitempty"`
	ReleasedAmount  string `json:"released_amount,omitempty"`
	RefundedAmount  string `json:"refunded_amount,omitempty"`
	AutoReleaseAt   string `json:"auto_release_at,omitempty"`
}

// Result is the v1 escrow operation result.
type Result struct {
	Message      string `json:"message,omitempty"`
	BalanceAfter string `json:"balance_after,omitempty"`
}

// ---------- v2: multi-participant lifecycle ----------

type lockV2Request struct {
	TaskID           string `json:"task_id"`
	CreatorID        string `json:"creator_id"`
	CreatorType      string `json:"creator_type"`
	Amount           string `json:"amount"`
	AutoReleaseDays  int    `json:"auto_release_days"`
	Description      string `json:"description,omitempty"`
}

// LockV2 locks a task's total budget, supporting both human and agent
// creators (spec §4.5 "creates escrow on task creation").
func (c *Client) LockV2(ctx context.Context, taskID, creatorID, creatorType string, amount money.Amount, autoReleaseDays int, description string) (*Detail, error) {
	if amount.IsZero() {
		return &Detail{}, nil
	}
	var detail Detail
	if err := c.do(ctx, http.MethodPost, "/api/labs/escrow/v2/lock",
		lockV2Request{TaskID: taskID, CreatorID: creatorID, CreatorType: creatorType, Amount: amount.String(), AutoReleaseDays: autoReleaseDays, Description: description},
		&detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

type acceptV2Request struct {
	AssigneeID   string `json:"assignee_id"`
	AssigneeType string `json:"assignee_type"`
}

// AcceptV2 records that an agent or human has accepted the escrowed task.
func (c *Client) AcceptV2(ctx context.Context, escrowID, assigneeID, assigneeType string) (*Detail, error) {
	if assigneeType == "" {
		assigneeType = "agent"
	}
	var detail Detail
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/labs/escrow/v2/%s/accept", escrowID),
		acceptV2Request{AssigneeID: assigneeID, AssigneeType: assigneeType}, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// SubmitV2 records deliverable submission against the escrow, returning the
// auto-release deadline it starts counting down from.
func (c *Client) SubmitV2(ctx context.Context, escrowID string) (*Detail, error) {
	var detail Detail
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/labs/escrow/v2/%s/submit", escrowID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetByTask retrieves the escrow associated with a task.
func (c *Client) GetByTask(ctx context.Context, taskID string) (*Detail, error) {
	var detail Detail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/labs/escrow/v2/task/%s", taskID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

type releasePartialRequest struct {
	RecipientID   string `json:"recipient_id"`
	RecipientType string `json:"recipient_type"`
	Amount        string `json:"amount"`
	Notes         string `json:"notes,omitempty"`
}

// ReleasePartial releases amount to recipientID from the escrow pool while
// keeping the escrow active, for the multi-participant reward path (spec
// §4.5 "releases per-completion reward without closing the escrow").
func (c *Client) ReleasePartial(ctx context.Context, escrowID, recipientID, recipientType string, amount money.Amount, notes string) (*Detail, error) {
	if amount.IsZero() {
		return &Detail{EscrowID: escrowID}, nil
	}
	if recipientType == "" {
		recipientType = "agent"
	}
	var detail Detail
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/labs/escrow/v2/%s/release_partial", escrowID),
		releasePartialRequest{RecipientID: recipientID, RecipientType: recipientType, Amount: amount.String(), Notes: notes}, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ---------- v1: single-assignee, human-creator compatibility ----------

type lockRequest struct {
	UserID      string `json:"user_id"`
	TaskID      string `json:"task_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// Lock locks a human creator's task budget (v1 compatibility path).
func (c *Client) Lock(ctx context.Context, userID, taskID string, amount money.Amount, description string) (*Result, error) {
	if amount.IsZero() {
		return &Result{Message: "No budget to lock"}, nil
	}
	var result Result
	if err := c.do(ctx, http.MethodPost, "/api/labs/escrow/lock",
		lockRequest{UserID: userID, TaskID: taskID, Amount: amount.String(), Description: description}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type releaseRequest struct {
	CreatorUserID     string `json:"creator_user_id"`
	AgentOwnerUserID  string `json:"agent_owner_user_id"`
	TaskID            string `json:"task_id"`
	Amount            string `json:"amount"`
	Description       string `json:"description,omitempty"`
}

// Release pays the agent owner out of the creator's locked escrow (v1
// compatibility path).
func (c *Client) Release(ctx context.Context, creatorUserID, agentOwnerUserID, taskID string, amount money.Amount, description string) (*Result, error) {
	if amount.IsZero() {
		return &Result{Message: "No reward to release"}, nil
	}
	var result Result
	if err := c.do(ctx, http.MethodPost, "/api/labs/escrow/release",
		releaseRequest{CreatorUserID: creatorUserID, AgentOwnerUserID: agentOwnerUserID, TaskID: taskID, Amount: amount.String(), Description: description}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type refundRequest struct {
	UserID      string `json:"user_id"`
	TaskID      string `json:"task_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// Refund returns unreleased budget to the creator on task cancellation.
func (c *Client) Refund(ctx context.Context, userID, taskID string, amount money.Amount, description string) (*Result, error) {
	if amount.IsZero() {
		return &Result{Message: "No budget to refund"}, nil
	}
	var result Result
	if err := c.do(ctx, http.MethodPost, "/api/labs/escrow/refund",
		refundRequest{UserID: userID, TaskID: taskID, Amount: amount.String(), Description: description}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckBalance retrieves a user's escrow-eligible balance (v1 compatibility
// path, mirrors the wallet service's balance check for human creators).
func (c *Client) CheckBalance(ctx context.Context, userID string) (*Result, error) {
	var result Result
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/labs/escrow/balance/%s", userID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("escrow client: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("escrow client: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.internalToken != "" {
		req.Header.Set("X-Internal-Token", c.internalToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("escrow client: escrow service unavailable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("escrow client: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("escrow client: escrow not found")
	}
	if resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Detail != "" {
			return fmt.Errorf("escrow client: request failed (HTTP %d): %s", resp.StatusCode, errResp.Detail)
		}
		return fmt.Errorf("escrow client: request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("escrow client: unmarshal response: %w", err)
		}
	}
	return nil
}
